package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"herbit/internal/ecoenzim"
	"herbit/internal/fermentation"
	"herbit/internal/metrics"
	"herbit/internal/model"
	"herbit/internal/repository"
)

var (
	ErrNotLinked        = errors.New("account is not linked")
	ErrNoProject        = errors.New("no active fermentation project")
	ErrAlreadyStarted   = errors.New("fermentation already started")
	ErrNotStarted       = errors.New("fermentation not started")
	ErrDayLocked        = errors.New("day is locked")
	ErrAlreadyCheckedIn = errors.New("already checked in today")
	ErrMilestoneNotDue  = errors.New("milestone photo not due yet")
	ErrMilestoneExists  = errors.New("milestone photo already uploaded")
	ErrInvalidMonth     = errors.New("month must be 1, 2 or 3")
	ErrInvalidPhotoURL  = errors.New("invalid photo url")
	ErrInvalidWeight    = errors.New("invalid waste weight")
	ErrNotEligible      = errors.New("final reward not claimable")
	ErrAlreadyClaimed   = errors.New("final reward already claimed")
)

// A waste entry must be worth more than a check-in, otherwise it cannot be told
// apart from one.
const (
	minWasteKg = 0.15
	maxWasteKg = 500
)

// Backend is the part of the ecoenzim API the services use.
type Backend interface {
	ActiveProject(ctx context.Context, userID string) (*model.Project, error)
	CreateProject(ctx context.Context, in model.NewProject) (*model.Project, error)
	DeleteProject(ctx context.Context, id string) error
	ListUploads(ctx context.Context, projectID string) ([]model.Upload, error)
	CreateUpload(ctx context.Context, in model.Upload) (*model.Upload, error)
	ClaimPoints(ctx context.Context, projectID string) (model.ClaimResult, error)
}

// View is a timeline together with the data it was built from.
type View struct {
	Project   *model.Project        `json:"project,omitempty"`
	Uploads   []model.Upload        `json:"uploads"`
	Timeline  fermentation.Timeline `json:"timeline"`
	FetchedAt time.Time             `json:"fetchedAt"`
	Stale     bool                  `json:"stale"`
}

// TimelineService fetches projects from the API, keeps a local snapshot and
// validates submissions before they reach the API.
type TimelineService struct {
	api       Backend
	snapshots *repository.SnapshotRepository
	loc       *time.Location
	now       func() time.Time
	log       *zap.Logger

	group singleflight.Group

	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func NewTimelineService(api Backend, snapshots *repository.SnapshotRepository, loc *time.Location, log *zap.Logger) *TimelineService {
	return &TimelineService{
		api:       api,
		snapshots: snapshots,
		loc:       loc,
		now:       time.Now,
		log:       log,
		locks:     make(map[string]*userLock),
	}
}

// SetClock replaces the wall clock, used by tests.
func (s *TimelineService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *TimelineService) Now() time.Time {
	return s.now().In(s.loc)
}

func (s *TimelineService) Location() *time.Location {
	return s.loc
}

// View returns the timeline of a linked user. When the API is unreachable the last
// snapshot is served with Stale set; rejections by the API are returned as errors.
func (s *TimelineService) View(ctx context.Context, user *model.User) (View, error) {
	if !user.Linked() {
		return View{}, ErrNotLinked
	}
	return s.Load(ecoenzim.WithAccessToken(ctx, user.AccessToken), user.HerbitUserID)
}

// Load is View for a bare Herbit user id.
func (s *TimelineService) Load(ctx context.Context, herbitUserID string) (View, error) {
	payload, fetchedAt, err := s.fetchShared(ctx, herbitUserID)
	if err == nil {
		return s.build(herbitUserID, payload, fetchedAt, false), nil
	}
	if !unreachable(err) {
		return View{}, err
	}

	stored, storedAt, found, loadErr := s.snapshots.Load(ctx, herbitUserID)
	if loadErr != nil {
		s.log.Error("load snapshot", zap.String("herbit_user", herbitUserID), zap.Error(loadErr))
	}
	if !found {
		return View{}, err
	}
	metrics.StaleSnapshots.Inc()
	s.log.Warn("serving stale snapshot",
		zap.String("herbit_user", herbitUserID),
		zap.Time("fetched_at", storedAt),
		zap.Error(err),
	)
	return s.build(herbitUserID, stored, storedAt, true), nil
}

// LoadLive is Load without the snapshot fallback.
func (s *TimelineService) LoadLive(ctx context.Context, herbitUserID string) (View, error) {
	payload, fetchedAt, err := s.fetchShared(ctx, herbitUserID)
	if err != nil {
		return View{}, err
	}
	return s.build(herbitUserID, payload, fetchedAt, false), nil
}

// unreachable reports whether a fetch failed because the API could not answer,
// as opposed to refusing the request.
func unreachable(err error) bool {
	var apiErr *ecoenzim.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled)
}

// flightKey scopes shared fetches to the credentials they were made with.
func flightKey(ctx context.Context, herbitUserID string) string {
	return herbitUserID + "\x00" + ecoenzim.AccessToken(ctx)
}

// Refresh fetches the project of a user and stores the snapshot.
func (s *TimelineService) Refresh(ctx context.Context, user *model.User) error {
	if !user.Linked() {
		return ErrNotLinked
	}
	_, _, err := s.fetchShared(ecoenzim.WithAccessToken(ctx, user.AccessToken), user.HerbitUserID)
	return err
}

// refreshConcurrency bounds parallel API fetches in RefreshAll.
const refreshConcurrency = 4

// RefreshAll refreshes the snapshots of users. Individual failures are logged and
// counted; only context cancellation aborts the run.
func (s *TimelineService) RefreshAll(ctx context.Context, users []model.User) (failed int, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)

	var mu sync.Mutex
	for i := range users {
		user := users[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := s.Refresh(gctx, &user); err != nil {
				s.log.Warn("refresh snapshot", zap.String("herbit_user", user.HerbitUserID), zap.Error(err))
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	err = g.Wait()
	return failed, err
}

// fetchShared collapses concurrent fetches for the same user into one API round trip.
func (s *TimelineService) fetchShared(ctx context.Context, herbitUserID string) (model.SnapshotPayload, time.Time, error) {
	type result struct {
		payload   model.SnapshotPayload
		fetchedAt time.Time
	}
	v, err, _ := s.group.Do(flightKey(ctx, herbitUserID), func() (interface{}, error) {
		payload, err := s.fetch(ctx, herbitUserID)
		if err != nil {
			return nil, err
		}
		fetchedAt := s.now()
		if err := s.snapshots.Save(ctx, herbitUserID, payload, fetchedAt); err != nil {
			s.log.Error("save snapshot", zap.String("herbit_user", herbitUserID), zap.Error(err))
		}
		return result{payload: payload, fetchedAt: fetchedAt}, nil
	})
	if err != nil {
		return model.SnapshotPayload{}, time.Time{}, err
	}
	r := v.(result)
	return r.payload, r.fetchedAt, nil
}

func (s *TimelineService) fetch(ctx context.Context, herbitUserID string) (model.SnapshotPayload, error) {
	project, err := s.api.ActiveProject(ctx, herbitUserID)
	if err != nil {
		return model.SnapshotPayload{}, fmt.Errorf("fetch project: %w", err)
	}
	payload := model.SnapshotPayload{Project: project}
	if project == nil {
		return payload, nil
	}
	uploads, err := s.api.ListUploads(ctx, project.ID)
	if err != nil {
		return model.SnapshotPayload{}, fmt.Errorf("fetch uploads: %w", err)
	}
	payload.Uploads = uploads
	return payload, nil
}

func (s *TimelineService) build(herbitUserID string, payload model.SnapshotPayload, fetchedAt time.Time, stale bool) View {
	t := fermentation.Build(payload.Project, payload.Uploads, s.now(), s.loc)
	for _, w := range t.Warnings {
		if w.Kind == fermentation.WarningOutOfRangeUpload {
			s.log.Debug(w.Message, zap.String("herbit_user", herbitUserID), zap.String("project", t.ProjectID))
			continue
		}
		s.log.Warn(w.Message,
			zap.String("kind", string(w.Kind)),
			zap.String("herbit_user", herbitUserID),
			zap.String("project", t.ProjectID),
		)
	}
	return View{
		Project:   payload.Project,
		Uploads:   payload.Uploads,
		Timeline:  t,
		FetchedAt: fetchedAt,
		Stale:     stale,
	}
}

// fresh loads the current state for a write. Stale snapshots are never used here.
func (s *TimelineService) fresh(ctx context.Context, user *model.User) (View, error) {
	if !user.Linked() {
		return View{}, ErrNotLinked
	}
	payload, err := s.fetch(ctx, user.HerbitUserID)
	if err != nil {
		return View{}, err
	}
	return s.build(user.HerbitUserID, payload, s.now(), false), nil
}

// lock serializes writes for one Herbit user within this process. The entry is
// dropped once nobody holds or waits for it.
func (s *TimelineService) lock(herbitUserID string) func() {
	s.mu.Lock()
	l, ok := s.locks[herbitUserID]
	if !ok {
		l = &userLock{}
		s.locks[herbitUserID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, herbitUserID)
		}
		s.mu.Unlock()
	}
}

// CheckIn records today's check-in.
func (s *TimelineService) CheckIn(ctx context.Context, user *model.User) (view View, err error) {
	defer func() { metrics.IncSubmission("checkin", err) }()

	ctx = ecoenzim.WithAccessToken(ctx, user.AccessToken)
	unlock := s.lock(user.HerbitUserID)
	defer unlock()

	cur, err := s.fresh(ctx, user)
	if err != nil {
		return View{}, err
	}
	if cur.Project == nil {
		return View{}, ErrNoProject
	}
	t := cur.Timeline
	if !t.Started {
		return View{}, ErrNotStarted
	}
	now := s.now()
	if t.CurrentDayIndex < 1 || fermentation.ElapsedDays(t.Anchor, now) >= fermentation.TotalDays {
		return View{}, ErrDayLocked
	}
	if t.CheckedToday() {
		return View{}, ErrAlreadyCheckedIn
	}

	_, err = s.api.CreateUpload(ctx, model.Upload{
		ProjectID:       cur.Project.ID,
		UserID:          user.HerbitUserID,
		UploadedDate:    now,
		PrePointsEarned: fermentation.CheckinPoints,
	})
	if err != nil {
		return View{}, fmt.Errorf("create checkin: %w", err)
	}
	s.log.Info("check-in recorded",
		zap.String("herbit_user", user.HerbitUserID),
		zap.String("project", cur.Project.ID),
		zap.Int("day", t.CurrentDayIndex),
	)
	return s.after(ctx, user), nil
}

// UploadMilestone submits the photo closing month 1, 2 or 3.
func (s *TimelineService) UploadMilestone(ctx context.Context, user *model.User, month int, photoURL string) (view View, err error) {
	defer func() { metrics.IncSubmission("milestone", err) }()

	if month < 1 || month > fermentation.Months {
		return View{}, ErrInvalidMonth
	}
	photoURL, err = normalizePhotoURL(photoURL)
	if err != nil {
		return View{}, err
	}

	ctx = ecoenzim.WithAccessToken(ctx, user.AccessToken)
	unlock := s.lock(user.HerbitUserID)
	defer unlock()

	cur, err := s.fresh(ctx, user)
	if err != nil {
		return View{}, err
	}
	if cur.Project == nil {
		return View{}, ErrNoProject
	}
	t := cur.Timeline
	if !t.Started {
		return View{}, ErrNotStarted
	}
	if t.Milestones[month] {
		return View{}, ErrMilestoneExists
	}
	if !fermentation.MilestoneDue(month, t.CurrentDayIndex) {
		return View{}, fmt.Errorf("%w: month %d opens on day %d", ErrMilestoneNotDue, month, month*fermentation.DaysPerMonth)
	}

	m := month
	_, err = s.api.CreateUpload(ctx, model.Upload{
		ProjectID:       cur.Project.ID,
		UserID:          user.HerbitUserID,
		UploadedDate:    s.now(),
		MonthNumber:     &m,
		PhotoURL:        photoURL,
		PrePointsEarned: fermentation.MilestonePhotoPoints,
	})
	if err != nil {
		return View{}, fmt.Errorf("create milestone: %w", err)
	}
	s.log.Info("milestone photo uploaded",
		zap.String("herbit_user", user.HerbitUserID),
		zap.String("project", cur.Project.ID),
		zap.Int("month", month),
	)
	return s.after(ctx, user), nil
}

// StartFermentation creates a project starting now and ending 90 days later.
func (s *TimelineService) StartFermentation(ctx context.Context, user *model.User, wasteKg float64) (view View, err error) {
	if err := validWeight(wasteKg, true); err != nil {
		return View{}, err
	}

	ctx = ecoenzim.WithAccessToken(ctx, user.AccessToken)
	unlock := s.lock(user.HerbitUserID)
	defer unlock()

	cur, err := s.fresh(ctx, user)
	if err != nil {
		return View{}, err
	}
	if cur.Project != nil {
		return View{}, ErrAlreadyStarted
	}
	if _, err := s.createProject(ctx, user, wasteKg); err != nil {
		return View{}, err
	}
	return s.after(ctx, user), nil
}

func (s *TimelineService) createProject(ctx context.Context, user *model.User, wasteKg float64) (*model.Project, error) {
	start := s.now()
	project, err := s.api.CreateProject(ctx, model.NewProject{
		UserID:             user.HerbitUserID,
		OrganicWasteWeight: wasteKg,
		StartDate:          start,
		EndDate:            start.AddDate(0, 0, fermentation.TotalDays),
	})
	if err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	if project == nil || project.ID == "" {
		return nil, fmt.Errorf("create project: empty response")
	}
	s.log.Info("fermentation started",
		zap.String("herbit_user", user.HerbitUserID),
		zap.String("project", project.ID),
		zap.Float64("waste_kg", wasteKg),
	)
	return project, nil
}

// AddWaste logs organic waste, worth 10 pre-points per kg. A project is created
// first when the user has none.
func (s *TimelineService) AddWaste(ctx context.Context, user *model.User, kg float64) (view View, err error) {
	defer func() { metrics.IncSubmission("waste", err) }()

	if err := validWeight(kg, false); err != nil {
		return View{}, err
	}

	ctx = ecoenzim.WithAccessToken(ctx, user.AccessToken)
	unlock := s.lock(user.HerbitUserID)
	defer unlock()

	cur, err := s.fresh(ctx, user)
	if err != nil {
		return View{}, err
	}
	project := cur.Project
	if project == nil {
		if project, err = s.createProject(ctx, user, kg); err != nil {
			return View{}, err
		}
	} else if cur.Timeline.Started {
		if fermentation.ElapsedDays(cur.Timeline.Anchor, s.now()) >= fermentation.TotalDays {
			return View{}, ErrDayLocked
		}
		// a waste entry is the day's check-in
		if cur.Timeline.CheckedToday() {
			return View{}, ErrAlreadyCheckedIn
		}
	}

	_, err = s.api.CreateUpload(ctx, model.Upload{
		ProjectID:       project.ID,
		UserID:          user.HerbitUserID,
		UploadedDate:    s.now(),
		PrePointsEarned: fermentation.WastePrePoints(kg),
	})
	if err != nil {
		return View{}, fmt.Errorf("create waste entry: %w", err)
	}
	return s.after(ctx, user), nil
}

// Claim converts the pre-points of a finished batch. The local evaluation only
// prevents pointless requests; the API decides.
func (s *TimelineService) Claim(ctx context.Context, user *model.User) (res model.ClaimResult, elig fermentation.Eligibility, err error) {
	defer func() { metrics.IncSubmission("claim", err) }()

	ctx = ecoenzim.WithAccessToken(ctx, user.AccessToken)
	unlock := s.lock(user.HerbitUserID)
	defer unlock()

	cur, err := s.fresh(ctx, user)
	if err != nil {
		return res, elig, err
	}
	if cur.Project == nil {
		return res, elig, ErrNoProject
	}
	elig = cur.Timeline.Eligibility
	if cur.Project.Closed() {
		return res, elig, ErrAlreadyClaimed
	}
	if !elig.Claimable {
		reasons := make([]string, 0, len(elig.Blockers))
		for _, b := range elig.Blockers {
			reasons = append(reasons, string(b))
		}
		return res, elig, fmt.Errorf("%w: %s", ErrNotEligible, strings.Join(reasons, ", "))
	}

	res, err = s.api.ClaimPoints(ctx, cur.Project.ID)
	if err != nil {
		return res, elig, fmt.Errorf("claim points: %w", err)
	}
	s.log.Info("final reward claimed",
		zap.String("herbit_user", user.HerbitUserID),
		zap.String("project", cur.Project.ID),
		zap.Float64("points", res.Points),
	)
	s.after(ctx, user)
	return res, elig, nil
}

// Reset deletes the active project and the local snapshot.
func (s *TimelineService) Reset(ctx context.Context, user *model.User) error {
	ctx = ecoenzim.WithAccessToken(ctx, user.AccessToken)
	unlock := s.lock(user.HerbitUserID)
	defer unlock()

	cur, err := s.fresh(ctx, user)
	if err != nil {
		return err
	}
	if cur.Project == nil {
		return ErrNoProject
	}
	if err := s.api.DeleteProject(ctx, cur.Project.ID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if err := s.snapshots.Delete(ctx, user.HerbitUserID); err != nil {
		return err
	}
	s.log.Info("project reset", zap.String("herbit_user", user.HerbitUserID), zap.String("project", cur.Project.ID))
	return nil
}

// after re-reads the state following a write. A failed read is logged and the
// caller gets an empty view rather than an error, since the write already went through.
func (s *TimelineService) after(ctx context.Context, user *model.User) View {
	s.group.Forget(flightKey(ctx, user.HerbitUserID))
	view, err := s.Load(ctx, user.HerbitUserID)
	if err != nil {
		s.log.Warn("reload after write", zap.String("herbit_user", user.HerbitUserID), zap.Error(err))
	}
	return view
}

func validWeight(kg float64, allowZero bool) error {
	switch {
	case math.IsNaN(kg) || math.IsInf(kg, 0):
		return ErrInvalidWeight
	case kg < 0 || (kg == 0 && !allowZero):
		return ErrInvalidWeight
	case !allowZero && kg < minWasteKg:
		return fmt.Errorf("%w: at least %.2f kg", ErrInvalidWeight, minWasteKg)
	case kg > maxWasteKg:
		return fmt.Errorf("%w: at most %d kg", ErrInvalidWeight, maxWasteKg)
	}
	return nil
}

func normalizePhotoURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", ErrInvalidPhotoURL
	}
	return u.String(), nil
}
