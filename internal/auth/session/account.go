// Package session holds the multi-account session: the set of authenticated
// accounts, which of them is selected, and the operations that move between
// those states.
//
// Invariants kept by every transition:
//   - Selected is nil exactly when Accounts is empty.
//   - A non-nil Selected equals, field for field, the single account in
//     Accounts with the same email.
//   - Emails are unique within Accounts.
package session

// AuthProvider tags how an account authenticated. Stored upper-cased.
type AuthProvider string

const (
	ProviderGoogle  AuthProvider = "GOOGLE"
	ProviderGitHub  AuthProvider = "GITHUB"
	ProviderWebsite AuthProvider = "WEBSITE"
)

// Default quota applied when the backend payload omits it.
const (
	DefaultStorageUsageMb = 0
	DefaultStorageQuotaMb = 10
)

// Account is one authenticated identity.
type Account struct {
	Token                 string       `json:"token"`
	Email                 string       `json:"email"`
	Username              string       `json:"username"`
	ImageURL              string       `json:"imageUrl,omitempty"`
	AuthProvider          AuthProvider `json:"authProvider"`
	LoginMethod           string       `json:"loginMethod"`
	CurrentStorageUsageMb float64      `json:"currentStorageUsageMb"`
	MaxStorageQuotaMb     float64      `json:"maxStorageQuotaMb"`
	DriveFolderID         string       `json:"driveFolderId,omitempty"`
	ExpirationTimeMillis  int64        `json:"expirationTimeMillis"`
}

// Session is the whole persisted state.
type Session struct {
	Selected *Account  `json:"selected"`
	Accounts []Account `json:"accounts"`
}

// Empty returns the logged-out session.
func Empty() Session {
	return Session{Accounts: []Account{}}
}

// IsEmpty reports whether no account is logged in.
func (s Session) IsEmpty() bool {
	return s.Selected == nil && len(s.Accounts) == 0
}

// Clone returns a deep copy that shares nothing with s.
func (s Session) Clone() Session {
	out := Session{Accounts: make([]Account, len(s.Accounts))}
	copy(out.Accounts, s.Accounts)
	if s.Selected != nil {
		sel := *s.Selected
		out.Selected = &sel
	}
	return out
}

// Lookup finds an account by email.
func (s Session) Lookup(email string) (Account, bool) {
	if i := s.indexOf(email); i >= 0 {
		return s.Accounts[i], true
	}
	return Account{}, false
}

// SelectedEmail returns the selected account's email or "".
func (s Session) SelectedEmail() string {
	if s.Selected == nil {
		return ""
	}
	return s.Selected.Email
}

// Valid reports whether s satisfies the session invariants.
func (s Session) Valid() bool {
	if s.Selected == nil {
		return len(s.Accounts) == 0
	}
	seen := make(map[string]bool, len(s.Accounts))
	matches := 0
	for _, a := range s.Accounts {
		if seen[a.Email] {
			return false
		}
		seen[a.Email] = true
		if a.Email == s.Selected.Email {
			if a != *s.Selected {
				return false
			}
			matches++
		}
	}
	return matches == 1
}

func (s Session) indexOf(email string) int {
	for i, a := range s.Accounts {
		if a.Email == email {
			return i
		}
	}
	return -1
}

// normalize repairs a session into one that satisfies the invariants. Duplicate
// emails keep the last entry; a selection that is missing from the list, or a
// list without a selection, collapses to the empty session.
func normalize(s Session) Session {
	if s.Selected == nil {
		return Empty()
	}

	lastIndex := make(map[string]int, len(s.Accounts))
	for i, a := range s.Accounts {
		lastIndex[a.Email] = i
	}
	accounts := make([]Account, 0, len(lastIndex))
	for i, a := range s.Accounts {
		if lastIndex[a.Email] == i {
			accounts = append(accounts, a)
		}
	}

	out := Session{Accounts: accounts}
	i := out.indexOf(s.Selected.Email)
	if i < 0 {
		return Empty()
	}
	sel := accounts[i]
	out.Selected = &sel
	return out
}

// withLogin drops any account with acc's email, appends acc and selects it.
func withLogin(s Session, acc Account) Session {
	accounts := make([]Account, 0, len(s.Accounts)+1)
	for _, a := range s.Accounts {
		if a.Email != acc.Email {
			accounts = append(accounts, a)
		}
	}
	accounts = append(accounts, acc)
	sel := acc
	return Session{Selected: &sel, Accounts: accounts}
}

// withSelected selects the listed account with email; s is returned unchanged otherwise.
func withSelected(s Session, email string) Session {
	i := s.indexOf(email)
	if i < 0 {
		return s
	}
	out := s.Clone()
	sel := out.Accounts[i]
	out.Selected = &sel
	return out
}

// withoutAccount removes email. When it was selected the first remaining account
// becomes selected, or the session empties when none remain.
func withoutAccount(s Session, email string) Session {
	accounts := make([]Account, 0, len(s.Accounts))
	for _, a := range s.Accounts {
		if a.Email != email {
			accounts = append(accounts, a)
		}
	}
	if len(accounts) == 0 {
		return Empty()
	}

	out := Session{Accounts: accounts}
	if s.Selected == nil || s.Selected.Email == email {
		sel := accounts[0]
		out.Selected = &sel
		return out
	}
	sel := *s.Selected
	out.Selected = &sel
	return out
}

// withStorage updates the selected account's quota in both places it lives.
func withStorage(s Session, currentMb, maxMb float64) Session {
	if s.Selected == nil {
		return s
	}
	out := s.Clone()
	out.Selected.CurrentStorageUsageMb = currentMb
	out.Selected.MaxStorageQuotaMb = maxMb
	if i := out.indexOf(out.Selected.Email); i >= 0 {
		out.Accounts[i].CurrentStorageUsageMb = currentMb
		out.Accounts[i].MaxStorageQuotaMb = maxMb
	}
	return out
}
