package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/ptbhub/pkg/clock"
	"github.com/platinummonkey/ptbhub/pkg/models"
	"github.com/platinummonkey/ptbhub/pkg/observability"
	"github.com/platinummonkey/ptbhub/pkg/storage/postgres"
)

const (
	dedupWindow = time.Second
	dedupSize   = 4096
)

// Store persists notifications
type Store interface {
	BulkCreate(ctx context.Context, items []*models.Notification) error
}

// GroupSender delivers a frame to a WebSocket group
type GroupSender interface {
	SendGroup(ctx context.Context, group string, frame interface{}) error
}

// GroupLookup loads task groups
type GroupLookup interface {
	GetGroup(ctx context.Context, id int64) (*models.TaskGroup, error)
}

// SystemConfig loads the reminder policy
type SystemConfig interface {
	GetSystem(ctx context.Context) (*models.SystemConfiguration, error)
}

// Draft is a notification before persistence
type Draft struct {
	Recipient int64
	Title     string
	Message   string
	EventID   *int64
	Type      models.NotificationType
	// Ref identifies the source record for deduplication when EventID is nil
	Ref string
}

func (d Draft) dedupKey() string {
	ref := d.Ref
	if d.EventID != nil {
		ref = fmt.Sprintf("event:%d", *d.EventID)
	}
	return fmt.Sprintf("%d|%s|%s", d.Recipient, ref, d.Type)
}

// Frame is the live push for one notification
type Frame struct {
	Type      string                  `json:"type"`
	ID        int64                   `json:"id"`
	Title     string                  `json:"title"`
	Message   string                  `json:"message"`
	EventType models.NotificationType `json:"event_type"`
	EventID   *int64                  `json:"event_id,omitempty"`
	IsRead    bool                    `json:"is_read"`
	CreatedAt time.Time               `json:"created_at"`
}

// Deps are the engine's collaborators. Sender, Groups, System and Bus may
// be nil.
type Deps struct {
	Store     Store
	Users     UserDirectory
	Employees EmployeeDirectory
	Groups    GroupLookup
	System    SystemConfig
	Sender    GroupSender
	Bus       Publisher
	Clock     clock.Clock
	Logger    *observability.Logger
	Metrics   *observability.Metrics
}

// Engine creates and pushes notifications
type Engine struct {
	store   Store
	users   UserDirectory
	groups  GroupLookup
	system  SystemConfig
	sender  GroupSender
	matcher *Matcher
	clock   clock.Clock
	logger  *observability.Logger
	metrics *observability.Metrics

	mu    sync.Mutex
	dedup *expirable.LRU[string, struct{}]
}

// New creates an engine
func New(d Deps) *Engine {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Logger == nil {
		d.Logger = observability.NopLogger()
	}
	if d.Metrics == nil {
		d.Metrics = observability.NewNopMetrics()
	}
	var matcherOpts []MatcherOption
	if d.Bus != nil {
		matcherOpts = append(matcherOpts, WithPublisher(d.Bus))
	}
	return &Engine{
		store:   d.Store,
		users:   d.Users,
		groups:  d.Groups,
		system:  d.System,
		sender:  d.Sender,
		matcher: NewMatcher(d.Users, d.Employees, d.Logger, matcherOpts...),
		clock:   d.Clock,
		logger:  d.Logger,
		metrics: d.Metrics,
		dedup:   expirable.NewLRU[string, struct{}](dedupSize, nil, dedupWindow),
	}
}

// EmployeeForUser resolves the employee record of u, provisioning one when
// nothing matches
func (e *Engine) EmployeeForUser(ctx context.Context, u *models.User) (*models.Employee, error) {
	return e.matcher.EmployeeForUser(ctx, u)
}

// Send persists drafts in one insert and schedules their pushes for after
// commit. Drafts repeating a (recipient, source, type) key committed within
// the last second are dropped.
func (e *Engine) Send(ctx context.Context, drafts []Draft) ([]*models.Notification, error) {
	keys, items := e.filter(drafts)
	if len(items) == 0 {
		return nil, nil
	}

	if err := e.store.BulkCreate(ctx, items); err != nil {
		return nil, fmt.Errorf("create notifications: %w", err)
	}

	for _, n := range items {
		e.metrics.NotificationsCreatedTotal.WithLabelValues(string(n.EventType)).Inc()
	}

	// a rolled back batch leaves no dedup keys behind
	postgres.OnCommit(ctx, func(ctx context.Context) {
		e.remember(keys)
		e.push(ctx, items)
	})
	return items, nil
}

func (e *Engine) remember(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, k := range keys {
		e.dedup.Add(k, struct{}{})
	}
}

func (e *Engine) filter(drafts []Draft) ([]string, []*models.Notification) {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]bool, len(drafts))
	keys := make([]string, 0, len(drafts))
	items := make([]*models.Notification, 0, len(drafts))
	now := e.clock.Now().UTC()
	for _, d := range drafts {
		key := d.dedupKey()
		if seen[key] || e.dedup.Contains(key) {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
		items = append(items, &models.Notification{
			RecipientID: d.Recipient,
			Title:       d.Title,
			Message:     d.Message,
			EventID:     d.EventID,
			EventType:   d.Type,
			CreatedAt:   now,
		})
	}
	return keys, items
}

func (e *Engine) push(ctx context.Context, items []*models.Notification) {
	if e.sender == nil {
		return
	}
	for _, n := range items {
		frame := Frame{
			Type:      "notification",
			ID:        n.ID,
			Title:     n.Title,
			Message:   n.Message,
			EventType: n.EventType,
			EventID:   n.EventID,
			CreatedAt: n.CreatedAt,
		}
		if err := e.sender.SendGroup(ctx, models.NotificationsGroup(n.RecipientID), frame); err != nil {
			e.metrics.NotificationsPushedTotal.WithLabelValues("failed").Inc()
			e.logger.WithError(err).WithField("recipient_id", n.RecipientID).Debug("notification push failed")
			continue
		}
		e.metrics.NotificationsPushedTotal.WithLabelValues("sent").Inc()
	}
}

// recipientSet is an insertion-ordered set of user ids
type recipientSet struct {
	order []int64
	has   map[int64]bool
}

func newRecipientSet() *recipientSet {
	return &recipientSet{has: map[int64]bool{}}
}

func (s *recipientSet) add(ids ...int64) {
	for _, id := range ids {
		if id <= 0 || s.has[id] {
			continue
		}
		s.has[id] = true
		s.order = append(s.order, id)
	}
}

func (s *recipientSet) remove(ids ...int64) {
	for _, id := range ids {
		delete(s.has, id)
	}
}

func (s *recipientSet) ids() []int64 {
	out := make([]int64, 0, len(s.has))
	for _, id := range s.order {
		if s.has[id] {
			out = append(out, id)
		}
	}
	return out
}

func (e *Engine) adminIDs(ctx context.Context) ([]int64, error) {
	admins, err := e.users.ListPTBAdmins(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(admins))
	for _, u := range admins {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (e *Engine) groupMembers(ctx context.Context, groupID *int64) ([]int64, error) {
	if groupID == nil || e.groups == nil {
		return nil, nil
	}
	g, err := e.groups.GetGroup(ctx, *groupID)
	if err != nil {
		return nil, ignoreNotFound(err)
	}
	return g.MemberIDs, nil
}

func drafts(ids []int64, build func(id int64) Draft) []Draft {
	out := make([]Draft, 0, len(ids))
	for _, id := range ids {
		out = append(out, build(id))
	}
	return out
}
