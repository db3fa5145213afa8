/*
Package household manages the groups that own billing documents.

PURPOSE:
  Every card, purchase and installment belongs to one household (a
  billing.Group). This package bootstraps a household for a new user,
  manages its members and their permissions, and resolves the
  billing.Actor a request acts as.

ROLES:
  owner:   created the household; holds every permission and is the only
           one who may rename it, add or remove members, or change their
           permissions. The owner cannot leave.
  member:  joins with DefaultMemberPermissions (dashboard only) until the
           owner grants more.

SEE ALSO:
  - billing/actor.go: Permission and Actor
  - billing/store.go: Group and Member documents
*/
package household

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/card-engine/billing"
)

// PermManageHousehold is never granted; it names the owner-only operations
// in permission errors.
const PermManageHousehold billing.Permission = "manageHousehold"

// ErrOwnerCannotLeave is returned when the owner tries to leave or be removed.
var ErrOwnerCannotLeave = errors.New("the household owner cannot leave the household")

// DefaultMemberPermissions are granted to members who join a household.
func DefaultMemberPermissions() billing.PermissionSet {
	return billing.NewPermissionSet(billing.PermViewDashboard)
}

// OwnerPermissions are granted to the household owner.
func OwnerPermissions() billing.PermissionSet {
	return billing.NewPermissionSet(billing.AllPermissions...)
}

// Identity is a verified user as reported by the identity provider.
type Identity struct {
	UserID      billing.UserID
	Email       string
	DisplayName string
}

func (i Identity) name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return "User"
}

// Service manages households on top of a billing.Store.
type Service struct {
	store  billing.Store
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(store billing.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// BOOTSTRAP
// =============================================================================

// EnsureHousehold returns the user's membership, creating a household owned
// by the user when they have none. The second result reports creation.
func (s *Service) EnsureHousehold(ctx context.Context, id Identity) (billing.Member, bool, error) {
	if id.UserID == "" {
		return billing.Member{}, false, &billing.ValidationError{Field: "user_id", Message: "is required"}
	}
	existing, err := s.store.FindMembership(ctx, id.UserID)
	if err == nil {
		return existing, false, nil
	}
	if !billing.IsNotFound(err) {
		return billing.Member{}, false, err
	}

	now := s.now().UTC()
	group := billing.Group{
		ID:        billing.GroupID(s.newID()),
		Name:      "Group of " + id.name(),
		OwnerID:   id.UserID,
		CreatedAt: now,
	}
	owner := billing.Member{
		UserID:      id.UserID,
		GroupID:     group.ID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		Role:        billing.RoleOwner,
		Permissions: OwnerPermissions(),
		JoinedAt:    now,
	}

	b := billing.NewBatch().Add(billing.PutGroup{Group: group}, billing.PutMember{Member: owner})
	if err := s.store.Commit(ctx, b); err != nil {
		return billing.Member{}, false, &billing.CommitError{Op: "create household", Err: err}
	}
	s.logger.InfoContext(ctx, "household created", "group_id", group.ID, "owner_id", id.UserID)
	return owner, true, nil
}

// ActorFor resolves the actor of a user in their household.
func (s *Service) ActorFor(ctx context.Context, userID billing.UserID) (billing.Actor, error) {
	m, err := s.store.FindMembership(ctx, userID)
	if err != nil {
		return billing.Actor{}, err
	}
	return m.Actor(), nil
}

// =============================================================================
// MEMBERS (owner only)
// =============================================================================

// RequireOwner returns the actor's group when the actor owns it.
func (s *Service) RequireOwner(ctx context.Context, actor billing.Actor) (billing.Group, error) {
	if actor.GroupID == "" {
		return billing.Group{}, &billing.PermissionError{UserID: actor.UserID, Permission: PermManageHousehold}
	}
	g, err := s.store.GetGroup(ctx, actor.GroupID)
	if err != nil {
		return billing.Group{}, err
	}
	if g.OwnerID != actor.UserID {
		return billing.Group{}, &billing.PermissionError{UserID: actor.UserID, Permission: PermManageHousehold}
	}
	return g, nil
}

// Members lists the household's members. Any member may list them.
func (s *Service) Members(ctx context.Context, actor billing.Actor) ([]billing.Member, error) {
	if err := actor.Require(billing.PermViewDashboard); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, actor.GroupID)
}

// AddMember adds a user to the owner's household with the default
// permissions. Users already in a household are rejected.
func (s *Service) AddMember(ctx context.Context, owner billing.Actor, id Identity) (billing.Member, error) {
	if _, err := s.RequireOwner(ctx, owner); err != nil {
		return billing.Member{}, err
	}
	if id.UserID == "" {
		return billing.Member{}, &billing.ValidationError{Field: "user_id", Message: "is required"}
	}
	_, err := s.store.FindMembership(ctx, id.UserID)
	if err == nil {
		return billing.Member{}, &billing.ValidationError{Field: "user_id", Message: "already belongs to a household"}
	}
	if !billing.IsNotFound(err) {
		return billing.Member{}, err
	}

	m := billing.Member{
		UserID:      id.UserID,
		GroupID:     owner.GroupID,
		Email:       id.Email,
		DisplayName: id.DisplayName,
		Role:        billing.RoleMember,
		Permissions: DefaultMemberPermissions(),
		JoinedAt:    s.now().UTC(),
	}
	if err := s.store.Commit(ctx, billing.NewBatch().Add(billing.PutMember{Member: m})); err != nil {
		return billing.Member{}, &billing.CommitError{Op: "add member", Err: err}
	}
	s.logger.InfoContext(ctx, "member added", "group_id", m.GroupID, "user_id", m.UserID)
	return m, nil
}

// UpdateMemberPermissions replaces a member's permissions. The owner's own
// permissions cannot be reduced.
func (s *Service) UpdateMemberPermissions(ctx context.Context, owner billing.Actor, userID billing.UserID, perms []billing.Permission) (billing.Member, error) {
	g, err := s.RequireOwner(ctx, owner)
	if err != nil {
		return billing.Member{}, err
	}
	if userID == g.OwnerID {
		return billing.Member{}, &billing.ValidationError{Field: "user_id", Message: "owner permissions cannot be changed"}
	}
	for _, p := range perms {
		if !p.Valid() {
			return billing.Member{}, &billing.ValidationError{Field: "permissions", Message: "unknown permission " + string(p)}
		}
	}
	m, err := s.store.GetMember(ctx, owner.GroupID, userID)
	if err != nil {
		return billing.Member{}, err
	}

	m.Permissions = billing.NewPermissionSet(perms...)
	if err := s.store.Commit(ctx, billing.NewBatch().Add(billing.PutMember{Member: m})); err != nil {
		return billing.Member{}, &billing.CommitError{Op: "update member permissions", Err: err}
	}
	s.logger.InfoContext(ctx, "member permissions updated",
		"group_id", m.GroupID, "user_id", m.UserID, "permissions", permissionNames(m.Permissions))
	return m, nil
}

// RemoveMember removes a member from the owner's household.
func (s *Service) RemoveMember(ctx context.Context, owner billing.Actor, userID billing.UserID) error {
	g, err := s.RequireOwner(ctx, owner)
	if err != nil {
		return err
	}
	if userID == g.OwnerID {
		return ErrOwnerCannotLeave
	}
	if _, err := s.store.GetMember(ctx, owner.GroupID, userID); err != nil {
		return err
	}
	b := billing.NewBatch().Add(billing.DeleteMember{GroupID: owner.GroupID, UserID: userID})
	if err := s.store.Commit(ctx, b); err != nil {
		return &billing.CommitError{Op: "remove member", Err: err}
	}
	s.logger.InfoContext(ctx, "member removed", "group_id", owner.GroupID, "user_id", userID)
	return nil
}

// Leave removes the actor from their household. Owners cannot leave.
func (s *Service) Leave(ctx context.Context, actor billing.Actor) error {
	g, err := s.store.GetGroup(ctx, actor.GroupID)
	if err != nil {
		return err
	}
	if g.OwnerID == actor.UserID {
		return ErrOwnerCannotLeave
	}
	b := billing.NewBatch().Add(billing.DeleteMember{GroupID: actor.GroupID, UserID: actor.UserID})
	if err := s.store.Commit(ctx, b); err != nil {
		return &billing.CommitError{Op: "leave household", Err: err}
	}
	return nil
}

// Rename changes the household's display name.
func (s *Service) Rename(ctx context.Context, owner billing.Actor, name string) (billing.Group, error) {
	g, err := s.RequireOwner(ctx, owner)
	if err != nil {
		return billing.Group{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return billing.Group{}, &billing.ValidationError{Field: "name", Message: "is required"}
	}
	g.Name = name
	if err := s.store.Commit(ctx, billing.NewBatch().Add(billing.PutGroup{Group: g})); err != nil {
		return billing.Group{}, &billing.CommitError{Op: "rename household", Err: err}
	}
	return g, nil
}

func permissionNames(set billing.PermissionSet) []string {
	var out []string
	for _, p := range set.List() {
		out = append(out, string(p))
	}
	return out
}
