package repository

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"unicode"

	"github.com/hyperengineering/labsync/internal/queue"
	"github.com/hyperengineering/labsync/internal/types"
	"golang.org/x/crypto/bcrypt"
)

// PasswordLength is the length of generated passwords.
const PasswordLength = 8

// passwordAlphabet omits characters that are easy to confuse (0/O, 1/l/I).
const passwordAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz23456789"

// Login is the plaintext login generated for a new staff member. The
// password is never stored; only its bcrypt hash is.
type Login struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type (
	staffCollection      = Collection[types.Staff, *types.Staff]
	credentialCollection = Collection[types.Credential, *types.Credential]
)

// StaffDirectory holds staff members and phlebotomists, which share one
// uniqueness scope, together with their generated logins.
type StaffDirectory struct {
	reg        *Registry
	staff      *staffCollection
	phleb      *staffCollection
	creds      *credentialCollection
	bcryptCost int
}

// NewStaffDirectory registers the staff, phlebotomist and users collections.
// A bcryptCost of zero selects bcrypt.DefaultCost.
func NewStaffDirectory(reg *Registry, bcryptCost int) *StaffDirectory {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	d := &StaffDirectory{
		reg:        reg,
		staff:      NewCollection[types.Staff, *types.Staff](reg, staffSchema(types.RoleStaff)),
		phleb:      NewCollection[types.Staff, *types.Staff](reg, staffSchema(types.RolePhlebotomist)),
		creds:      NewCollection[types.Credential, *types.Credential](reg, credentialSchema()),
		bcryptCost: bcryptCost,
	}
	shareScope(d.staff, d.phleb)
	return d
}

func (d *StaffDirectory) collection(role types.Role) *staffCollection {
	if role == types.RolePhlebotomist {
		return d.phleb
	}
	return d.staff
}

// Create adds a staff member to the collection selected by input.Role and
// generates their login. The returned Login carries the only copy of the
// plaintext password.
//
// If the login cannot be recorded after the member was, the member is kept
// and the error is returned alongside it.
func (d *StaffDirectory) Create(input types.Staff) (types.Staff, Login, error) {
	if input.Role == "" {
		input.Role = types.RoleStaff
	}
	password, err := generatePassword()
	if err != nil {
		return types.Staff{}, Login{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.bcryptCost)
	if err != nil {
		return types.Staff{}, Login{}, fmt.Errorf("hash password: %w", err)
	}

	d.reg.mu.Lock()
	defer d.reg.mu.Unlock()

	member, err := d.collection(input.Role).createLocked(input)
	if err != nil {
		return types.Staff{}, Login{}, err
	}

	username, err := d.uniqueUsernameLocked(member.Name, member.Phone)
	if err != nil {
		return member, Login{}, fmt.Errorf("generate login for %s: %w", member.ID, err)
	}
	_, err = d.creds.createLocked(types.Credential{
		Username:     username,
		PasswordHash: string(hash),
		Role:         member.Role,
		PersonID:     member.ID,
		IsActive:     true,
	})
	if err != nil {
		return member, Login{}, fmt.Errorf("record login for %s: %w", member.ID, err)
	}

	slog.Info("staff member created",
		"action", "create",
		"table", member.Role.Table(),
		"id", member.ID,
		"username", username,
		"component", "repository",
	)
	return member, Login{Username: username, Password: password}, nil
}

// Update patches the staff member with id in whichever collection holds it.
// The role cannot be changed.
func (d *StaffDirectory) Update(id string, patch Patch) (types.Staff, error) {
	d.reg.mu.Lock()
	defer d.reg.mu.Unlock()

	c, err := d.ownerLocked(id)
	if err != nil {
		return types.Staff{}, err
	}
	return c.updateLocked(id, patch)
}

// Delete removes the staff member with id and their login. The login is
// deleted remotely by person_id.
func (d *StaffDirectory) Delete(id string) error {
	d.reg.mu.Lock()
	defer d.reg.mu.Unlock()

	c, err := d.ownerLocked(id)
	if err != nil {
		return err
	}
	if _, err := c.deleteLocked(id, DeleteKey{Column: "id", Value: id}); err != nil {
		return err
	}

	creds, err := d.creds.load()
	if err != nil {
		return err
	}
	for i := range creds {
		if creds[i].PersonID != id {
			continue
		}
		if _, err := d.creds.deleteLocked(creds[i].ID, DeleteKey{Column: "person_id", Value: id}); err != nil {
			return fmt.Errorf("delete login of %s: %w", id, err)
		}
		return nil
	}

	// No cached login; the remote may still hold one.
	data, err := json.Marshal(queue.DeletePayload{Key: "person_id", Value: id, HardDelete: true})
	if err != nil {
		return err
	}
	_, err = d.reg.queue.Enqueue(queue.Item{
		Table:     types.TableUsers,
		Operation: queue.OpDelete,
		EntityID:  id,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("enqueue login delete of %s: %w", id, err)
	}
	return nil
}

func (d *StaffDirectory) ownerLocked(id string) (*staffCollection, error) {
	for _, c := range []*staffCollection{d.staff, d.phleb} {
		records, err := c.load()
		if err != nil {
			return nil, err
		}
		if indexOf[types.Staff, *types.Staff](records, id) >= 0 {
			return c, nil
		}
	}
	return nil, &NotFoundError{Table: types.TableStaff, ID: id}
}

// List returns the members of one role, refreshing from the remote when online.
func (d *StaffDirectory) List(ctx context.Context, role types.Role) ([]types.Staff, error) {
	return d.collection(role).List(ctx)
}

// ListAll returns staff members followed by phlebotomists.
func (d *StaffDirectory) ListAll(ctx context.Context) ([]types.Staff, error) {
	staff, err := d.staff.List(ctx)
	if err != nil {
		return nil, err
	}
	phleb, err := d.phleb.List(ctx)
	if err != nil {
		return nil, err
	}
	return append(staff, phleb...), nil
}

// Get returns the member with id from either collection.
func (d *StaffDirectory) Get(ctx context.Context, id string) (types.Staff, error) {
	s, err := d.staff.Get(ctx, id)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return s, err
	}
	return d.phleb.Get(ctx, id)
}

// Credentials returns the cached logins.
func (d *StaffDirectory) Credentials() ([]types.Credential, error) {
	return d.creds.Cached()
}

// Authenticate checks username and password against the cached logins,
// which works offline. Usernames match case-insensitively.
func (d *StaffDirectory) Authenticate(username, password string) (types.Credential, error) {
	cred, ok, err := d.creds.Find(func(c *types.Credential) bool {
		return strings.EqualFold(c.Username, username)
	})
	if err != nil {
		return types.Credential{}, err
	}
	if !ok || !cred.IsActive {
		return types.Credential{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return types.Credential{}, ErrInvalidCredentials
	}
	return cred, nil
}

// usernameBase is the lower-cased name without whitespace followed by the
// last four digits of the phone number.
func usernameBase(name, phone string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if !unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	digits := phone
	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	b.WriteString(digits)
	return b.String()
}

// uniqueUsernameLocked appends 1, 2, ... to the base until no cached login uses it.
func (d *StaffDirectory) uniqueUsernameLocked(name, phone string) (string, error) {
	base := usernameBase(name, phone)
	candidate := base
	for n := 1; ; n++ {
		taken, err := d.creds.hasKey("username", candidate, "")
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = base + strconv.Itoa(n)
	}
}

func generatePassword() (string, error) {
	limit := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, PasswordLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}
