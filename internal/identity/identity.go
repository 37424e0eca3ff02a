// Package identity supplies the app id and app version attached to every
// outgoing request.
package identity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// VersionCode is the monotonic build number, set at link time:
//
//	go build -ldflags "-X github.com/eldtechnologies/peerchat/internal/identity.VersionCode=12"
var VersionCode = ""

// ErrVersionUnavailable is returned when no usable version code was built in.
var ErrVersionUnavailable = errors.New("app version unavailable")

// Provider supplies app identity.
type Provider interface {
	AppID() string
	AppVersion() (int64, error)
}

// AppIDSource is anything that knows the install's app id, such as settings.
type AppIDSource interface {
	AppID() string
}

// Build is the Provider backed by persisted settings and the linked version code.
type Build struct {
	ids         AppIDSource
	versionCode string
}

// New returns a provider reading the app id from ids and the version from VersionCode.
func New(ids AppIDSource) *Build {
	return &Build{ids: ids, versionCode: VersionCode}
}

// AppID returns the install's app id.
func (b *Build) AppID() string {
	return b.ids.AppID()
}

// AppVersion parses the linked version code.
func (b *Build) AppVersion() (int64, error) {
	code := strings.TrimSpace(b.versionCode)
	if code == "" {
		return 0, ErrVersionUnavailable
	}
	v, err := strconv.ParseInt(code, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: bad version code %q", ErrVersionUnavailable, code)
	}
	return v, nil
}
