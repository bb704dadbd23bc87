package rakp

// UserLookup is the narrow interface RAKP1→2 consumes for user identity,
// password, and privilege-limit resolution — the Go stand-in for the
// original's ipmiUserGetUserId/ipmiUserCheckEnabled/ipmiUserGetPassword/
// ipmiUserPamAuthenticate/getChannelAccessData/ipmiUserGetPrivilegeAccess
// free functions. The concrete per-channel user database is an external
// collaborator out of scope per spec.md §1; this daemon ships an in-memory
// implementation (InMemoryUsers) suitable for tests and for a minimal
// deployment, and expects a real deployment to supply its own.
type UserLookup interface {
	// UserID resolves a user name to a numeric id. ok is false if the name
	// is unknown.
	UserID(name string) (id uint8, ok bool)
	// Enabled reports whether the given user id is currently enabled.
	Enabled(id uint8) bool
	// Password returns the user's password for RAKP HMAC keying. ok is
	// false if the user has no password set (which RAKP12 treats the same
	// as an unknown user).
	Password(name string) (password string, ok bool)
	// Authenticate re-validates name/password, mirroring the original's
	// lockout-aware ipmiUserPamAuthenticate call.
	Authenticate(name, password string) bool
	// ChannelAccessEnabled reports whether the given channel's access mode
	// permits sessions at all.
	ChannelAccessEnabled(channel uint8) bool
	// ChannelPrivilegeLimit returns the channel's configured privilege
	// ceiling.
	ChannelPrivilegeLimit(channel uint8) uint8
	// UserPrivilege returns the user's configured privilege for the given
	// channel.
	UserPrivilege(userID, channel uint8) uint8
}

// InMemoryUsers is a minimal UserLookup backed by an in-process map, the
// out-of-the-box default for this daemon. Real deployments plug in their
// own UserLookup backed by the host's actual userdb.
type InMemoryUsers struct {
	users map[string]inMemoryUser
}

type inMemoryUser struct {
	id        uint8
	password  string
	enabled   bool
	privilege uint8
}

// NewInMemoryUsers constructs an empty user database; use AddUser to
// populate it.
func NewInMemoryUsers() *InMemoryUsers {
	return &InMemoryUsers{users: make(map[string]inMemoryUser)}
}

// AddUser registers a user with the given numeric id, password, and
// channel-independent privilege ceiling.
func (u *InMemoryUsers) AddUser(name string, id uint8, password string, privilege uint8) {
	u.users[name] = inMemoryUser{id: id, password: password, enabled: true, privilege: privilege}
}

func (u *InMemoryUsers) UserID(name string) (uint8, bool) {
	rec, ok := u.users[name]
	if !ok {
		return 0, false
	}
	return rec.id, true
}

func (u *InMemoryUsers) Enabled(id uint8) bool {
	for _, rec := range u.users {
		if rec.id == id {
			return rec.enabled
		}
	}
	return false
}

func (u *InMemoryUsers) Password(name string) (string, bool) {
	rec, ok := u.users[name]
	if !ok || rec.password == "" {
		return "", false
	}
	return rec.password, true
}

func (u *InMemoryUsers) Authenticate(name, password string) bool {
	rec, ok := u.users[name]
	return ok && rec.enabled && rec.password == password
}

func (u *InMemoryUsers) ChannelAccessEnabled(channel uint8) bool {
	return true
}

func (u *InMemoryUsers) ChannelPrivilegeLimit(channel uint8) uint8 {
	return uint8(4) // admin ceiling by default; see ipmi.PrivilegeAdmin
}

func (u *InMemoryUsers) UserPrivilege(userID, channel uint8) uint8 {
	for _, rec := range u.users {
		if rec.id == userID {
			return rec.privilege
		}
	}
	return 0
}
