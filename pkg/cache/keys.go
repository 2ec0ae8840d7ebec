package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Prefix is the first segment of every cache key
type Prefix string

const (
	PrefixList   Prefix = "list"
	PrefixObject Prefix = "obj"
	PrefixCustom Prefix = "custom"
)

// AllPrefixes lists every prefix a view may have keys under
var AllPrefixes = []Prefix{PrefixList, PrefixObject, PrefixCustom}

// View names shared by handlers and signal subscribers
const (
	ViewEmployees        = "employees"
	ViewProjects         = "projects"
	ViewOvertimeRequests = "overtime_requests"
	ViewCalendarEvents   = "calendar_events"
	ViewDepartments      = "departments"
)

// DefaultTTL applies to views without an entry in DefaultTTLs
const DefaultTTL = 1800 * time.Second

// DefaultTTLs is the per-view expiry table
var DefaultTTLs = map[string]time.Duration{
	ViewEmployees:        3600 * time.Second,
	ViewProjects:         3600 * time.Second,
	ViewOvertimeRequests: 300 * time.Second,
	ViewCalendarEvents:   600 * time.Second,
}

// Key builds <prefix>:<view>[:user_<id>][:<hash>]. userID 0 omits the user
// segment and nil params omit the hash.
func Key(prefix Prefix, view string, userID int64, params interface{}) string {
	var b strings.Builder
	b.WriteString(string(prefix))
	b.WriteByte(':')
	b.WriteString(view)
	if userID != 0 {
		b.WriteString(":user_")
		b.WriteString(strconv.FormatInt(userID, 10))
	}
	if h := ParamsHash(params); h != "" {
		b.WriteByte(':')
		b.WriteString(h)
	}
	return b.String()
}

// ParamsHash is the first 16 hex chars of the SHA-256 of the canonical JSON
// encoding of params. Map keys are sorted by encoding/json.
func ParamsHash(params interface{}) string {
	if params == nil {
		return ""
	}
	if m, ok := params.(map[string][]string); ok && len(m) == 0 {
		return ""
	}
	data, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// ViewPattern is the wildcard matching every key of view under prefix
func ViewPattern(prefix Prefix, view string) string {
	return "*" + string(prefix) + ":" + view + "*"
}
