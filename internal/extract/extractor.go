package extract

import (
	"regexp"
	"strings"
)

type section int

const (
	sectionText section = iota
	sectionInvestment
	sectionFunding
)

// fundingTotal is tracked as a column but never stored.
const fundingTotal = "资金来源合计"

var (
	textLabels = map[string]string{
		"项目名称":            "项目名称",
		"项目类型":            "项目类型",
		"建设性质":            "建设性质",
		"拟开工时间":           "拟开工时间",
		"拟建成时间":           "拟建成时间",
		"建设规模与建设内容（生产能力）": "建设规模与建设内容（生产能力）",
		"建设规模与建设内容":       "建设规模与建设内容（生产能力）",
		"项目联系人姓名":         "项目联系人姓名",
		"项目联系人手机":         "项目联系人手机",
		"项目（法人）单位":        "项目（法人）单位",
		"成立日期":            "成立日期",
		"法定代表人":           "法定代表人",
		"法定代表人手机号码":       "法定代表人手机号码",
		"法定代表人手机号":        "法定代表人手机号码",
	}

	investmentColumns = map[string]string{
		"合计":       "总投资",
		"土建工程":     "土建工程",
		"设备购置费":    "设备购置费",
		"安装工程":     "安装工程",
		"工程建设其他费用": "工程建设其他费用",
		"预备费":      "预备费",
		"建设期利息":    "建设期利息",
		"铺底流动资金":   "铺底流动资金",
	}

	fundingColumns = map[string]string{
		"合计":           "资金来源合计",
		"财政性资金":        "财政性资金",
		"自有资金（非财政性资金）": "自有资金（非财政性资金）",
		"银行贷款":         "银行贷款",
		"其它":           "其它",
	}

	sectionEndMarkers = []string{"项目单位基本情况", "项目变更情况", "项目单位声明"}

	fixedInvestmentPattern = regexp.MustCompile(`固定投资([0-9]+(?:\.[0-9]+)?)万元`)
	numericPattern         = regexp.MustCompile(`^[-+]?\d+(?:\.\d+)?$`)
)

// Extract walks the rows of a filing document and fills the known fields.
//
// Outside a table section a label cell takes the next non-label cell to its
// right as value. Inside the investment and funding tables header rows map
// columns to fields and numeric rows fill them by position. A 固定投资 figure
// mentioned in prose is recovered separately and stands in for 总投资 when
// the table did not give one.
func Extract(rows [][]string) Fields {
	var (
		out     Fields
		current = sectionText
		columns = map[int]string{}
	)
	for _, row := range rows {
		cells := make([]string, len(row))
		blank := true
		for i, c := range row {
			cells[i] = clean(c)
			if cells[i] != "" {
				blank = false
			}
		}
		if blank {
			continue
		}

		if anyContains(cells, "项目投资情况") {
			current, columns = sectionInvestment, map[int]string{}
			continue
		}
		if anyEquals(cells, "资金来源（万元）") {
			current, columns = sectionFunding, map[int]string{}
			continue
		}
		if anyContains(cells, sectionEndMarkers...) || anyContains(cells, "项目（法人）单位") {
			current, columns = sectionText, map[int]string{}
		}

		switch current {
		case sectionInvestment:
			mapColumns(cells, investmentColumns, columns)
		case sectionFunding:
			mapColumns(cells, fundingColumns, columns)
		}

		for _, cell := range cells {
			if m := fixedInvestmentPattern.FindStringSubmatch(cell); m != nil {
				out.FixedInvestment = m[1]
			}
		}

		if current == sectionText {
			readLabels(cells, &out)
			continue
		}

		if anyNumeric(cells) {
			for idx, cell := range cells {
				if !isNumeric(cell) {
					continue
				}
				field, ok := columns[idx]
				if !ok || field == fundingTotal {
					continue
				}
				out.set(field, cell)
			}
		}
	}

	if out.TotalInvestment == "" {
		out.TotalInvestment = out.FixedInvestment
	}
	return out
}

func readLabels(cells []string, out *Fields) {
	for idx, label := range cells {
		if label == "" {
			continue
		}
		field, ok := textLabels[label]
		if !ok {
			continue
		}
		for _, candidate := range cells[idx+1:] {
			if candidate == "" || isHeader(candidate) {
				continue
			}
			out.set(field, candidate)
			break
		}
	}
}

func mapColumns(cells []string, known map[string]string, columns map[int]string) {
	for idx, cell := range cells {
		if field, ok := known[cell]; ok {
			columns[idx] = field
		}
	}
}

func isHeader(cell string) bool {
	if _, ok := textLabels[cell]; ok {
		return true
	}
	if _, ok := investmentColumns[cell]; ok {
		return true
	}
	_, ok := fundingColumns[cell]
	return ok
}

func clean(cell string) string {
	return strings.TrimSpace(strings.ReplaceAll(cell, "\n", ""))
}

func isNumeric(cell string) bool {
	return cell != "" && numericPattern.MatchString(cell)
}

func anyNumeric(cells []string) bool {
	for _, c := range cells {
		if isNumeric(c) {
			return true
		}
	}
	return false
}

func anyEquals(cells []string, want string) bool {
	for _, c := range cells {
		if c == want {
			return true
		}
	}
	return false
}

func anyContains(cells []string, markers ...string) bool {
	for _, c := range cells {
		if c == "" {
			continue
		}
		for _, m := range markers {
			if strings.Contains(c, m) {
				return true
			}
		}
	}
	return false
}
