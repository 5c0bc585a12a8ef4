package projectview

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"aiscene/clients/projectclient"
	"aiscene/pkg/domain"
)

// ProjectInfo is the structured house metadata the workflow UI edits.
type ProjectInfo struct {
	Community     string
	Room          int
	Hall          int
	Restroom      int
	Area          float64
	Price         float64
	SellingPoints []string
	Remarks       string
}

// Asset is the view-model shape of one clip on the timeline.
type Asset struct {
	ID         string
	URL        string
	SceneLabel string
	UserLabel  string
	Duration   float64
	SortOrder  int
	SceneScore *float64
}

// Project is the denormalized view-model the workflow UI renders from.
type Project struct {
	ID             string
	Title          string
	Info           ProjectInfo
	Assets         []Asset
	Script         string
	AudioURL       string
	FinalVideoURL  string
	Status         domain.ProjectStatus
	ErrorLog       string
	ErrorTaskID    string
	ErrorRequestID string
	ErrorStep      string
	ErrorAt        *time.Time
}

// Store holds the single currently-active project view-model and refreshes
// it from the project service. It is an explicit per-application object;
// construct one and inject it where needed.
//
// Overlapping refreshes for different projects are not serialized: the
// store models exactly one current project and last writer wins.
type Store struct {
	mu       sync.Mutex
	client   *projectclient.Client
	rewriter *AssetURLRewriter
	logger   *slog.Logger
	project  Project
	subs     []func()
}

// NewStore builds a store with draft defaults. The rewriter origin is
// derived from the client's base URL.
func NewStore(client *projectclient.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client:   client,
		rewriter: NewAssetURLRewriter(client.BaseURL()),
		logger:   logger,
		project:  emptyProject(),
	}
}

func emptyProject() Project {
	return Project{
		Info: ProjectInfo{
			Room:          2,
			Hall:          1,
			Restroom:      1,
			SellingPoints: []string{},
		},
		Assets: []Asset{},
		Status: domain.StatusDraft,
	}
}

// Current returns a copy of the view-model.
func (s *Store) Current() Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Project {
	// make keeps empty slices non-nil; absent arrays stay empty sequences,
	// not nulls, all the way to the renderer.
	p := s.project
	p.Assets = make([]Asset, len(s.project.Assets))
	copy(p.Assets, s.project.Assets)
	p.Info.SellingPoints = make([]string, len(s.project.Info.SellingPoints))
	copy(p.Info.SellingPoints, s.project.Info.SellingPoints)
	return p
}

// Subscribe registers fn to run after every successful refresh.
func (s *Store) Subscribe(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Reset restores the draft defaults, e.g. when the user starts over.
func (s *Store) Reset() {
	s.mu.Lock()
	s.project = emptyProject()
	s.mu.Unlock()
	s.notify()
}

func (s *Store) notify() {
	s.mu.Lock()
	subs := make([]func(), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

type houseInfoWire struct {
	Community     string   `json:"community"`
	Room          int      `json:"room"`
	Hall          int      `json:"hall"`
	Restroom      int      `json:"restroom"`
	Area          float64  `json:"area"`
	Price         float64  `json:"price"`
	SellingPoints []string `json:"sellingPoints"`
	Remarks       string   `json:"remarks"`
}

// RefreshProject fetches project-level fields and replaces the view-model
// wholesale. Error fields are overwritten unconditionally: absent fields
// reset to empty. On failure the view-model keeps its last-known-good
// state and the error is returned to the caller.
func (s *Store) RefreshProject(id string) error {
	resp, err := s.client.GetProject(id)
	if err != nil {
		s.logger.Error("fetch project failed", "project_id", id, "err", err)
		return err
	}

	var info houseInfoWire
	if len(resp.HouseInfo) > 0 {
		// Tolerate partial or missing keys; zero values are the defaults.
		_ = json.Unmarshal(resp.HouseInfo, &info)
	}
	if info.SellingPoints == nil {
		info.SellingPoints = []string{}
	}

	s.mu.Lock()
	s.project.ID = resp.ID
	s.project.Title = resp.Title
	s.project.Info = ProjectInfo{
		Community:     info.Community,
		Room:          info.Room,
		Hall:          info.Hall,
		Restroom:      info.Restroom,
		Area:          info.Area,
		Price:         info.Price,
		SellingPoints: info.SellingPoints,
		Remarks:       info.Remarks,
	}
	s.project.Script = CanonicalScript(resp.ScriptContent)
	s.project.AudioURL = resp.AudioURL
	s.project.FinalVideoURL = resp.FinalVideoURL
	if resp.Status.Valid() {
		s.project.Status = resp.Status
	}
	s.project.ErrorLog = resp.ErrorLog
	s.project.ErrorTaskID = resp.ErrorTaskID
	s.project.ErrorRequestID = resp.ErrorRequestID
	s.project.ErrorStep = resp.ErrorStep
	s.project.ErrorAt = resp.ErrorAt
	s.mu.Unlock()

	s.notify()
	return nil
}

// RefreshTimeline fetches the ordered asset list and merges it into the
// view-model. Unlike RefreshProject, error-context fields only overwrite
// when the payload carries them; an omitted field never clobbers a
// previously known value. Status overwrites only when present.
func (s *Store) RefreshTimeline(id string) error {
	resp, err := s.client.GetTimeline(id)
	if err != nil {
		s.logger.Error("fetch timeline failed", "project_id", id, "err", err)
		return err
	}

	assets := make([]Asset, 0, len(resp.Assets))
	for _, raw := range resp.Assets {
		userLabel := raw.UserLabel
		if userLabel == "" {
			userLabel = raw.SceneLabel
		}
		assets = append(assets, Asset{
			ID:         raw.ID,
			URL:        s.rewriter.Rewrite(raw.OssURL),
			SceneLabel: raw.SceneLabel,
			UserLabel:  userLabel,
			Duration:   raw.Duration,
			SortOrder:  raw.SortOrder,
			SceneScore: raw.SceneScore,
		})
	}
	sort.SliceStable(assets, func(i, j int) bool {
		return assets[i].SortOrder < assets[j].SortOrder
	})

	s.mu.Lock()
	s.project.Assets = assets
	if len(resp.ScriptContent) > 0 {
		s.project.Script = CanonicalScript(resp.ScriptContent)
	}
	if resp.Status.Valid() {
		s.project.Status = resp.Status
	}
	if resp.ErrorRequestID != nil {
		s.project.ErrorRequestID = *resp.ErrorRequestID
	}
	if resp.ErrorStep != nil {
		s.project.ErrorStep = *resp.ErrorStep
	}
	s.mu.Unlock()

	s.notify()
	return nil
}
