// Package remote parses git remote URLs into stable repository identities.
// Equivalent ssh, scp-like and http(s) forms of the same repository normalize
// to one canonical string used as the cache and lookup key everywhere else.
package remote

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Kind classifies the protocol a remote URL was expressed in.
type Kind int

const (
	KindOther Kind = iota
	KindLocal
	KindHTTP
	KindSSH
	KindGit
)

// scpPattern matches scp-like remotes of the form [user@]host:owner/repo.
var scpPattern = regexp.MustCompile(`^(?:([^@/]+)@)?([^:/]+):(.+)$`)

// Identity is a parsed repository identity. Host, Owner and Name are fixed at
// parse time; only Kind may be overridden afterwards via Update.
type Identity struct {
	Host  string
	Owner string
	Name  string
	Kind  Kind
}

// Parse turns a git remote URL into an Identity.
//
// scp-like forms (git@host:owner/repo) are recognized first; everything else
// goes through URI parsing. An ssh:// URI whose authority carries an scp-style
// colon path (ssh://host:owner/repo) is re-tested against the scp pattern,
// since it differs from ssh://host/owner/repo. A bare filesystem path parses
// to an identity with an empty host rather than failing.
func Parse(raw string) (*Identity, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty remote url")
	}

	if !strings.Contains(trimmed, "://") {
		if m := scpPattern.FindStringSubmatch(trimmed); m != nil {
			return fromSCP(m, KindSSH), nil
		}
		// Bare local path: empty host, kind Other.
		owner, name := splitOwnerName(trimmed)
		return &Identity{Owner: owner, Name: name, Kind: KindOther}, nil
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		// ssh://host:owner/repo is rejected by the URL parser (non-numeric
		// port) but is a valid scp-style remote once the scheme is dropped.
		if len(trimmed) > 6 && strings.EqualFold(trimmed[:6], "ssh://") {
			if m := scpPattern.FindStringSubmatch(trimmed[6:]); m != nil {
				return fromSCP(m, KindSSH), nil
			}
		}
		return nil, fmt.Errorf("parse remote url %q: %w", raw, err)
	}

	kind := kindForScheme(u.Scheme)
	if kind == KindSSH {
		authority := u.Host
		if u.User != nil {
			authority = u.User.String() + "@" + authority
		}
		if m := scpPattern.FindStringSubmatch(authority + u.Path); m != nil {
			return fromSCP(m, KindSSH), nil
		}
	}

	owner, name := splitOwnerName(u.Path)
	return &Identity{
		Host:  u.Hostname(),
		Owner: owner,
		Name:  name,
		Kind:  kind,
	}, nil
}

func kindForScheme(scheme string) Kind {
	switch strings.ToLower(scheme) {
	case "file":
		return KindLocal
	case "http", "https":
		return KindHTTP
	case "git":
		return KindGit
	case "ssh":
		return KindSSH
	default:
		return KindOther
	}
}

func fromSCP(m []string, kind Kind) *Identity {
	host := m[2]
	owner, name := splitOwnerName(m[3])
	return &Identity{Host: host, Owner: owner, Name: name, Kind: kind}
}

// splitOwnerName extracts owner and repository name from a path. The name is
// the last non-empty segment with a trailing .git stripped; the owner is the
// second-to-last segment, or empty when the path has only one segment
// (user@host:project.git has no owner).
func splitOwnerName(path string) (owner, name string) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	var kept []string
	for _, s := range segments {
		if s != "" {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return "", ""
	}
	name = strings.TrimSuffix(kept[len(kept)-1], ".git")
	if len(kept) > 1 {
		owner = kept[len(kept)-2]
	}
	return owner, name
}

// comparisonHost strips the host down to its last two DNS labels so that
// www.github.com and github.com compare equal. Credentials and ports were
// already removed at parse time.
func (i *Identity) comparisonHost() string {
	labels := strings.Split(i.Host, ".")
	if len(labels) <= 2 {
		return i.Host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// Normalize renders the canonical lower-cased identity string used purely for
// equality testing and cache keys. All protocol variants of the same
// owner/repo normalize to the same https form. Returns "" when the host is
// empty (local paths have no stable remote identity).
func (i *Identity) Normalize() string {
	if i.Host == "" {
		return ""
	}
	return strings.ToLower(fmt.Sprintf("https://%s/%s/%s", i.comparisonHost(), i.Owner, i.Name))
}

// Equals reports whether two identities refer to the same repository.
// Hosts are additionally compared by substring containment to tolerate
// enterprise subdomain variants. Never panics on empty-host identities.
func (i *Identity) Equals(other *Identity) bool {
	if i == nil || other == nil {
		return false
	}
	a, b := i.Normalize(), other.Normalize()
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if !strings.EqualFold(i.Owner, other.Owner) || !strings.EqualFold(i.Name, other.Name) {
		return false
	}
	ha, hb := strings.ToLower(i.Host), strings.ToLower(other.Host)
	return strings.Contains(ha, hb) || strings.Contains(hb, ha)
}

// Update overrides the protocol kind. Host, owner and name are identity and
// can never change.
func (i *Identity) Update(kind Kind) {
	i.Kind = kind
}

// String reconstructs a display URL. SSH and git remotes render as the
// GitHub-style scp form (git@host:owner/repo), which is the canonical form
// other tooling expects, rather than the original URI.
func (i *Identity) String() string {
	ownerRepo := i.Name
	if i.Owner != "" {
		ownerRepo = i.Owner + "/" + i.Name
	}
	switch i.Kind {
	case KindSSH, KindGit:
		return fmt.Sprintf("git@%s:%s", i.Host, ownerRepo)
	case KindHTTP:
		return fmt.Sprintf("https://%s/%s", i.Host, ownerRepo)
	default:
		if i.Host == "" {
			return ownerRepo
		}
		return fmt.Sprintf("%s/%s", i.Host, ownerRepo)
	}
}
