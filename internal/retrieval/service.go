package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/JakeFAU/tzxm-crawler/internal/catalog"
	"github.com/JakeFAU/tzxm-crawler/internal/crawler"
	"github.com/JakeFAU/tzxm-crawler/internal/extract"
	"github.com/JakeFAU/tzxm-crawler/internal/metrics"
	"github.com/JakeFAU/tzxm-crawler/internal/store"
)

// DefaultFlag selects the original-document variant of downFile.
const DefaultFlag = "1"

// ErrNotVerified is returned when a download is attempted before the session's
// captcha was accepted.
var ErrNotVerified = errors.New("retrieval session not verified")

// ExtractFunc turns a downloaded document into fields.
type ExtractFunc func(data []byte, name string) (extract.Fields, error)

// Dependencies wires a Service.
type Dependencies struct {
	Doer     catalog.Doer
	Catalog  *catalog.Client
	Registry *Registry
	Projects store.ProjectStore
	Blobs    crawler.BlobStore
	// Extract defaults to extract.FromDocument.
	Extract ExtractFunc
	IDs     crawler.IDGenerator
	Clock   crawler.Clock
}

// Service runs retrieval sessions end to end.
type Service struct {
	portal   *portal
	registry *Registry
	projects store.ProjectStore
	blobs    crawler.BlobStore
	extract  ExtractFunc
	ids      crawler.IDGenerator
	clock    crawler.Clock
	logger   *zap.Logger
}

// Challenge is what the operator needs to solve a captcha.
type Challenge struct {
	SessionID string `json:"session_id"`
	Image     []byte `json:"image"`
	State     State  `json:"state"`
}

// VerifyResult reports a verification attempt. Image is set when the code was
// rejected and a fresh challenge was issued.
type VerifyResult struct {
	Verified bool   `json:"verified"`
	Image    []byte `json:"image,omitempty"`
	State    State  `json:"state"`
}

// DownloadRequest selects the document to fetch.
type DownloadRequest struct {
	// SendID defaults to the session's sub-item.
	SendID string `json:"sendid,omitempty"`
	Flag   string `json:"flag,omitempty"`
	// FileName, or the document URL it is taken from, names the stored file.
	FileName string `json:"file_name,omitempty"`
	// DownloadOnly keeps the raw file without extracting it.
	DownloadOnly bool `json:"download_only,omitempty"`
}

// Document is a downloaded file.
type Document struct {
	FileName    string
	ContentType string
	Data        []byte
}

// ParseResult reports the outcome of Parse.
type ParseResult struct {
	ProjectID string          `json:"project_id"`
	Parsed    bool            `json:"parsed"`
	Fields    *extract.Fields `json:"fields,omitempty"`
	RawPath   string          `json:"raw_path,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// New builds a Service.
func New(deps Dependencies, logger *zap.Logger) (*Service, error) {
	switch {
	case deps.Doer == nil || deps.Catalog == nil:
		return nil, errors.New("retrieval: doer and catalog are required")
	case deps.Registry == nil || deps.Projects == nil || deps.Blobs == nil:
		return nil, errors.New("retrieval: registry, projects and blobs are required")
	case deps.IDs == nil || deps.Clock == nil:
		return nil, errors.New("retrieval: ids and clock are required")
	}
	if deps.Extract == nil {
		deps.Extract = extract.FromDocument
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		portal:   &portal{doer: deps.Doer, catalog: deps.Catalog, clock: deps.Clock},
		registry: deps.Registry,
		projects: deps.Projects,
		blobs:    deps.Blobs,
		extract:  deps.Extract,
		ids:      deps.IDs,
		clock:    deps.Clock,
		logger:   logger.Named("retrieval"),
	}, nil
}

// Begin opens a remote session for one sub-item and issues its first challenge.
func (s *Service) Begin(ctx context.Context, projectID, sendID string) (Challenge, error) {
	projectID, sendID = strings.TrimSpace(projectID), strings.TrimSpace(sendID)
	if projectID == "" || sendID == "" {
		return Challenge{}, fmt.Errorf("%w: project id and sendid are required", crawler.ErrValidation)
	}
	id, err := s.ids.NewID()
	if err != nil {
		return Challenge{}, fmt.Errorf("generate session id: %w", err)
	}
	sess := &Session{
		ID:        id,
		ProjectID: projectID,
		SendID:    sendID,
		Referer:   s.portal.referer(projectID, sendID),
		CreatedAt: s.clock.Now(),
		cookies:   map[string]string{},
		state:     StateCreated,
	}
	if err := s.portal.establish(ctx, sess); err != nil {
		return Challenge{}, err
	}
	image, err := s.portal.challenge(ctx, sess)
	if err != nil {
		return Challenge{}, err
	}
	sess.challenge = image
	sess.state = StateChallengeIssued
	s.registry.Add(sess)
	s.logger.Info("retrieval session opened",
		zap.String("session_id", id),
		zap.String("project_id", projectID),
		zap.String("send_id", sendID),
	)
	return Challenge{SessionID: id, Image: image, State: sess.state}, nil
}

// Verify submits a captcha answer. A rejected answer is a normal result: the
// session stays in challenge_issued with a fresh image.
func (s *Service) Verify(ctx context.Context, sessionID, code string) (VerifyResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return VerifyResult{}, fmt.Errorf("%w: code is required", crawler.ErrValidation)
	}
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return VerifyResult{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	ok, err := s.portal.checkRandom(ctx, sess, code)
	if err != nil {
		return VerifyResult{}, err
	}
	metrics.ObserveVerification(ok)
	if ok {
		sess.code = code
		sess.state = StateVerified
		s.logger.Info("captcha accepted", zap.String("session_id", sessionID))
		return VerifyResult{Verified: true, State: sess.state}, nil
	}

	image, err := s.portal.challenge(ctx, sess)
	if err != nil {
		return VerifyResult{}, err
	}
	sess.code = ""
	sess.challenge = image
	sess.state = StateChallengeIssued
	s.logger.Info("captcha rejected", zap.String("session_id", sessionID))
	return VerifyResult{Verified: false, Image: image, State: sess.state}, nil
}

// Session returns a snapshot of a live session.
func (s *Service) Session(sessionID string) (Snapshot, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshot(), nil
}

// Download fetches a document through a verified session. It can be repeated.
func (s *Service) Download(ctx context.Context, sessionID string, req DownloadRequest) (Document, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return Document{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.download(ctx, sess, req)
}

// Parse downloads a document, keeps the raw bytes in blob storage and
// extracts its fields into the project record. The raw copy is dropped once
// fields are stored; it is kept, and its location recorded, when extraction
// fails or was not requested.
func (s *Service) Parse(ctx context.Context, sessionID string, req DownloadRequest) (ParseResult, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return ParseResult{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	projectID := sess.ProjectID
	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		return ParseResult{}, fmt.Errorf("load project: %w", err)
	}
	doc, err := s.download(ctx, sess, req)
	if err != nil {
		return ParseResult{}, err
	}
	uri, err := s.blobs.PutObject(ctx, storedPath(projectID, doc.FileName), doc.ContentType, bytes.NewReader(doc.Data))
	if err != nil {
		return ParseResult{}, fmt.Errorf("store document: %w", err)
	}
	result := ParseResult{ProjectID: projectID, RawPath: uri}
	logger := s.logger.With(zap.String("project_id", projectID), zap.String("raw_path", uri))

	if req.DownloadOnly {
		return result, s.keepRaw(ctx, projectID, uri)
	}
	fields, err := s.extract(doc.Data, doc.FileName)
	if err != nil {
		logger.Warn("extraction failed, keeping raw document", zap.Error(err))
		result.Message = err.Error()
		return result, s.keepRaw(ctx, projectID, uri)
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return ParseResult{}, fmt.Errorf("encode fields: %w", err)
	}
	if err := s.projects.SaveExtraction(ctx, projectID, payload, s.clock.Now()); err != nil {
		return ParseResult{}, fmt.Errorf("save fields: %w", err)
	}
	if err := s.blobs.Delete(ctx, uri); err != nil {
		logger.Warn("delete parsed document", zap.Error(err))
	}
	logger.Info("document parsed")
	return ParseResult{ProjectID: projectID, Parsed: true, Fields: &fields}, nil
}

func (s *Service) keepRaw(ctx context.Context, projectID, uri string) error {
	if err := s.projects.SetRawPath(ctx, projectID, uri); err != nil {
		return fmt.Errorf("record raw path: %w", err)
	}
	return nil
}

func (s *Service) download(ctx context.Context, sess *Session, req DownloadRequest) (Document, error) {
	if sess.code == "" {
		return Document{}, fmt.Errorf("session %s: %w", sess.ID, ErrNotVerified)
	}
	sendID := strings.TrimSpace(req.SendID)
	if sendID == "" {
		sendID = sess.SendID
	}
	flag := strings.TrimSpace(req.Flag)
	if flag == "" {
		flag = DefaultFlag
	}
	data, headers, err := s.portal.downFile(ctx, sess, sendID, flag)
	if err != nil {
		return Document{}, err
	}
	sess.state = StateDownloaded
	metrics.ObserveDownload(len(data))

	name := fileName(req.FileName, sendID)
	s.logger.Info("document downloaded",
		zap.String("session_id", sess.ID),
		zap.String("send_id", sendID),
		zap.String("file", name),
		zap.Int("bytes", len(data)),
	)
	return Document{FileName: name, ContentType: contentType(name, headers), Data: data}, nil
}

// fileName derives a storage-safe name from a file name or document URL.
func fileName(raw, sendID string) string {
	base := path.Base(strings.TrimSpace(raw))
	if raw == "" || base == "." || base == "/" {
		base = sendID + ".pdf"
	}
	ext := strings.ToLower(path.Ext(base))
	stem := slug.Make(strings.TrimSuffix(base, path.Ext(base)))
	if stem == "" {
		stem = slug.Make(sendID)
	}
	if stem == "" {
		stem = "document"
	}
	return stem + ext
}

func contentType(name string, headers http.Header) string {
	if strings.EqualFold(path.Ext(name), ".pdf") {
		return "application/pdf"
	}
	if ct := headers.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func storedPath(projectID, name string) string {
	return path.Join("downloads", projectID, name)
}
