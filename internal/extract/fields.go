// Package extract turns the tabular content of a filing document into the
// fixed set of project fields.
package extract

// Fields is the extracted record. Every member is always serialised, empty
// when the document did not carry it.
type Fields struct {
	ProjectName          string `json:"项目名称"`
	ProjectType          string `json:"项目类型"`
	ConstructionNature   string `json:"建设性质"`
	PlannedStart         string `json:"拟开工时间"`
	PlannedCompletion    string `json:"拟建成时间"`
	ScaleAndContent      string `json:"建设规模与建设内容（生产能力）"`
	ContactName          string `json:"项目联系人姓名"`
	ContactMobile        string `json:"项目联系人手机"`
	TotalInvestment      string `json:"总投资"`
	FixedInvestment      string `json:"固定投资"`
	CivilWorks           string `json:"土建工程"`
	EquipmentPurchase    string `json:"设备购置费"`
	Installation         string `json:"安装工程"`
	OtherConstruction    string `json:"工程建设其他费用"`
	Contingency          string `json:"预备费"`
	ConstructionInterest string `json:"建设期利息"`
	WorkingCapital       string `json:"铺底流动资金"`
	FiscalFunds          string `json:"财政性资金"`
	OwnFunds             string `json:"自有资金（非财政性资金）"`
	BankLoans            string `json:"银行贷款"`
	OtherFunds           string `json:"其它"`
	LegalEntity          string `json:"项目（法人）单位"`
	EstablishedOn        string `json:"成立日期"`
	LegalRepresentative  string `json:"法定代表人"`
	RepresentativeMobile string `json:"法定代表人手机号码"`
}

var fieldNames = []string{
	"项目名称",
	"项目类型",
	"建设性质",
	"拟开工时间",
	"拟建成时间",
	"建设规模与建设内容（生产能力）",
	"项目联系人姓名",
	"项目联系人手机",
	"总投资",
	"固定投资",
	"土建工程",
	"设备购置费",
	"安装工程",
	"工程建设其他费用",
	"预备费",
	"建设期利息",
	"铺底流动资金",
	"财政性资金",
	"自有资金（非财政性资金）",
	"银行贷款",
	"其它",
	"项目（法人）单位",
	"成立日期",
	"法定代表人",
	"法定代表人手机号码",
}

// Names returns the field names in schema order.
func Names() []string {
	return append([]string(nil), fieldNames...)
}

func (f *Fields) slots() []*string {
	return []*string{
		&f.ProjectName,
		&f.ProjectType,
		&f.ConstructionNature,
		&f.PlannedStart,
		&f.PlannedCompletion,
		&f.ScaleAndContent,
		&f.ContactName,
		&f.ContactMobile,
		&f.TotalInvestment,
		&f.FixedInvestment,
		&f.CivilWorks,
		&f.EquipmentPurchase,
		&f.Installation,
		&f.OtherConstruction,
		&f.Contingency,
		&f.ConstructionInterest,
		&f.WorkingCapital,
		&f.FiscalFunds,
		&f.OwnFunds,
		&f.BankLoans,
		&f.OtherFunds,
		&f.LegalEntity,
		&f.EstablishedOn,
		&f.LegalRepresentative,
		&f.RepresentativeMobile,
	}
}

// Map returns every field keyed by its name.
func (f Fields) Map() map[string]string {
	out := make(map[string]string, len(fieldNames))
	for i, slot := range f.slots() {
		out[fieldNames[i]] = *slot
	}
	return out
}

// Values returns the field values in Names order.
func (f Fields) Values() []string {
	slots := f.slots()
	out := make([]string, len(slots))
	for i, slot := range slots {
		out[i] = *slot
	}
	return out
}

// Empty reports whether no field carries a value.
func (f Fields) Empty() bool {
	for _, slot := range f.slots() {
		if *slot != "" {
			return false
		}
	}
	return true
}

func (f *Fields) set(name, value string) {
	for i, slot := range f.slots() {
		if fieldNames[i] == name {
			*slot = value
			return
		}
	}
}
