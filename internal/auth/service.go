package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"uniplex.org/internal/ids"
	"uniplex.org/internal/obs"
)

// Service provides credential handling, token issuance, MFA challenges and
// the authorization decision procedure.
type Service struct {
	store  Store
	tokens *Issuer
	totp   *TOTP
	now    func() time.Time

	// bootstrapAdmin controls the one-shot first-login admin grant. It is a
	// security-sensitive global side effect, so deployments can turn it off.
	bootstrapAdmin bool
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithTOTP overrides the TOTP manager (useful for tests).
func WithTOTP(t *TOTP) ServiceOption {
	return func(s *Service) {
		if t != nil {
			s.totp = t
		}
	}
}

// WithServiceClock overrides the time source.
func WithServiceClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithoutBootstrapAdmin disables the first-login admin grant.
func WithoutBootstrapAdmin() ServiceOption {
	return func(s *Service) { s.bootstrapAdmin = false }
}

// NewService constructs a Service over the given store and token issuer.
func NewService(store Store, tokens *Issuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	svc := &Service{
		store:          store,
		tokens:         tokens,
		totp:           NewTOTP(tokens.issuer),
		now:            time.Now,
		bootstrapAdmin: true,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// LoginResult carries exactly one of Token or PendingToken.
type LoginResult struct {
	Token        string
	PendingToken string
	MFARequired  bool
	Roles        []string
	ExpiresAt    time.Time
}

// Register stores a new local-credential user.
func (s *Service) Register(ctx context.Context, email, password string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies local credentials and issues either a full token or, when
// the user has MFA enabled, a pending token. The very first successful login
// across the whole system is granted the admin role once.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}
	if user.PasswordHash == "" {
		// External-only account; it has no password to verify.
		return LoginResult{}, ErrInvalidCredentials
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	if s.bootstrapAdmin {
		fired, err := s.store.BootstrapAdmin(ctx, user.ID)
		if err != nil {
			return LoginResult{}, err
		}
		if fired {
			obs.Log(map[string]any{
				"level":   "warn",
				"msg":     "bootstrap admin role granted to first authenticated user",
				"user_id": user.ID,
				"email":   user.Email,
			})
		}
	}

	return s.issueFor(ctx, user)
}

// ExternalLogin resolves or creates a user asserted by an identity provider
// and applies the same MFA branching as local login.
func (s *Service) ExternalLogin(ctx context.Context, provider, externalID, email string) (LoginResult, error) {
	provider = strings.TrimSpace(strings.ToLower(provider))
	externalID = strings.TrimSpace(externalID)
	email = strings.TrimSpace(strings.ToLower(email))
	if provider == "" || (externalID == "" && email == "") {
		return LoginResult{}, fmt.Errorf("%w: external identity is required", ErrInvalidInput)
	}

	var user *User
	var err error
	if email != "" {
		user, err = s.store.FindUserByEmail(ctx, email)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return LoginResult{}, err
		}
	}
	if user == nil && externalID != "" {
		user, err = s.store.FindUserByExternal(ctx, provider, externalID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return LoginResult{}, err
		}
	}
	if user == nil {
		if email == "" {
			email = provider + ":" + externalID
		}
		user = &User{
			ID:               ids.New(),
			Email:            email,
			ExternalProvider: provider,
			ExternalID:       externalID,
			CreatedAt:        s.now().UTC(),
		}
		if err := s.store.CreateUser(ctx, user); err != nil {
			return LoginResult{}, err
		}
	}
	return s.issueFor(ctx, user)
}

func (s *Service) issueFor(ctx context.Context, user *User) (LoginResult, error) {
	roles, err := s.store.RolesForUser(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	roles = NormalizeRoles(roles)

	if user.MFAEnabled {
		pending, exp, err := s.tokens.IssuePending(user, roles)
		if err != nil {
			return LoginResult{}, err
		}
		return LoginResult{PendingToken: pending, MFARequired: true, Roles: roles, ExpiresAt: exp}, nil
	}

	token, exp, err := s.tokens.Issue(user, roles, nil)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, Roles: roles, ExpiresAt: exp}, nil
}

// Authenticate validates a full-access bearer token into a Principal. Roles
// come from the token claims, normalized across every supported claim shape.
func (s *Service) Authenticate(token string) (Principal, error) {
	info, err := s.tokens.ParseAccess(token)
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: info.Subject, Email: info.Email, Roles: info.Roles}, nil
}

// MFAEnrollment is the result of SetupMFA: the shared secret and the
// provisioning URI an authenticator app enrolls from.
type MFAEnrollment struct {
	Secret     string `json:"secret"`
	OtpauthURL string `json:"otpauthUrl"`
}

// SetupMFA generates a fresh secret for the user, persists it and flips the
// MFA flag on. Re-running replaces the previous secret.
func (s *Service) SetupMFA(ctx context.Context, userID string) (MFAEnrollment, error) {
	user, err := s.store.FindUser(ctx, userID)
	if err != nil {
		return MFAEnrollment{}, err
	}
	secret, err := s.totp.GenerateSecret()
	if err != nil {
		return MFAEnrollment{}, err
	}
	if err := s.store.SetMFA(ctx, user.ID, true, secret); err != nil {
		return MFAEnrollment{}, err
	}
	return MFAEnrollment{
		Secret:     secret,
		OtpauthURL: s.totp.ProvisioningURI(secret, user.Email),
	}, nil
}

// SetupMFAPending performs the same enrollment, but authenticates the caller
// by a pending token so the challenge can be completed mid-login.
func (s *Service) SetupMFAPending(ctx context.Context, pendingToken string) (MFAEnrollment, error) {
	info, err := s.tokens.ParsePending(pendingToken)
	if err != nil {
		return MFAEnrollment{}, err
	}
	return s.SetupMFA(ctx, info.Subject)
}

// VerifyMFA checks a TOTP code against the pending token's subject and, on
// success, exchanges the pending token for a full one.
func (s *Service) VerifyMFA(ctx context.Context, pendingToken, code string) (LoginResult, error) {
	info, err := s.tokens.ParsePending(pendingToken)
	if err != nil {
		return LoginResult{}, err
	}
	user, err := s.store.FindUser(ctx, info.Subject)
	if err != nil {
		return LoginResult{}, ErrInvalidPendingToken
	}
	if user.MFASecret == "" {
		return LoginResult{}, ErrNoMFASecret
	}
	ok, err := s.totp.Verify(user.MFASecret, code, s.now())
	if err != nil {
		return LoginResult{}, err
	}
	if !ok {
		return LoginResult{}, ErrMFACodeRejected
	}

	roles, err := s.store.RolesForUser(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	roles = NormalizeRoles(roles)
	token, exp, err := s.tokens.Issue(user, roles, nil)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, Roles: roles, ExpiresAt: exp}, nil
}

// ToggleMFA enables or disables MFA for the target user. Allowed for self,
// admins and holders of users:update. Disabling clears the stored secret so
// re-enabling forces fresh enrollment.
func (s *Service) ToggleMFA(ctx context.Context, p Principal, targetID string, enable bool) (*User, error) {
	if err := s.requireSelfOrGrant(ctx, p, targetID, "users", "update"); err != nil {
		return nil, err
	}
	user, err := s.store.FindUser(ctx, targetID)
	if err != nil {
		return nil, err
	}
	secret := user.MFASecret
	if !enable {
		secret = ""
	}
	if err := s.store.SetMFA(ctx, user.ID, enable, secret); err != nil {
		return nil, err
	}
	user.MFAEnabled = enable
	user.MFASecret = secret
	return user, nil
}

// UpdateUser applies a profile update. A subject may always modify its own
// user; modifying anyone else requires the users:update grant (or admin).
func (s *Service) UpdateUser(ctx context.Context, p Principal, targetID string, upd UserUpdate) error {
	if err := s.requireSelfOrGrant(ctx, p, targetID, "users", "update"); err != nil {
		return err
	}
	if upd.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*upd.Email))
		if email == "" || !strings.Contains(email, "@") {
			return fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		upd.Email = &email
	}
	if upd.Password != nil {
		pw := strings.TrimSpace(*upd.Password)
		if pw == "" {
			return fmt.Errorf("%w: password is required", ErrInvalidInput)
		}
		hash, err := HashPassword(pw)
		if err != nil {
			return err
		}
		upd.Password = &hash
	}
	return s.store.UpdateUser(ctx, targetID, upd)
}

// DeleteUser removes the user and cascades its role assignments. There is no
// self-service bypass for deletion: it takes admin or the users:delete grant.
func (s *Service) DeleteUser(ctx context.Context, p Principal, targetID string) error {
	if !p.IsAdmin() {
		allowed, err := s.store.HasGrant(ctx, p.UserID, "users", "delete")
		if err != nil {
			return err
		}
		if !allowed {
			return ErrDenied
		}
	}
	return s.store.DeleteUser(ctx, targetID)
}

// Allowed is the authorization decision procedure: admins pass outright,
// everyone else needs a grant for the (resource, operation) pair through at
// least one assigned role. Matching is case-insensitive. Pure read.
func (s *Service) Allowed(ctx context.Context, p Principal, resource, operation string) (bool, error) {
	if p.IsAdmin() {
		return true, nil
	}
	resource = strings.TrimSpace(strings.ToLower(resource))
	operation = strings.TrimSpace(strings.ToLower(operation))
	if resource == "" || operation == "" {
		return false, fmt.Errorf("%w: resource and operation are required", ErrInvalidInput)
	}
	return s.store.HasGrant(ctx, p.UserID, resource, operation)
}

// PermissionMap is the effective permission set of a subject. Admin holds
// the full Resource x Operation cross product.
type PermissionMap struct {
	Admin       bool    `json:"admin"`
	Permissions []Grant `json:"permissions"`
}

// Permissions resolves the subject's permission map.
func (s *Service) Permissions(ctx context.Context, p Principal) (PermissionMap, error) {
	if p.IsAdmin() {
		all, err := s.store.AllGrantPairs(ctx)
		if err != nil {
			return PermissionMap{}, err
		}
		return PermissionMap{Admin: true, Permissions: all}, nil
	}
	grants, err := s.store.GrantsForUser(ctx, p.UserID)
	if err != nil {
		return PermissionMap{}, err
	}
	return PermissionMap{Permissions: grants}, nil
}

// Me returns the profile of the authenticated subject.
func (s *Service) Me(ctx context.Context, p Principal) (*User, error) {
	return s.store.FindUser(ctx, p.UserID)
}

// Store exposes the underlying store for the vocabulary handlers.
func (s *Service) Store() Store { return s.store }

func (s *Service) requireSelfOrGrant(ctx context.Context, p Principal, targetID, resource, operation string) error {
	if p.IsAdmin() || (p.UserID != "" && p.UserID == targetID) {
		return nil
	}
	if p.UserID == "" {
		return ErrDenied
	}
	allowed, err := s.store.HasGrant(ctx, p.UserID, resource, operation)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrDenied
	}
	return nil
}
