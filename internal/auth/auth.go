package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"keygate/internal/alert"
	"keygate/internal/constants"
	"keygate/internal/protocol"
	"keygate/internal/security"
	"keygate/internal/store"
)

var (
	ErrMessageTooLarge = errors.New("frame exceeds size limit")
	ErrInvalidJSON     = errors.New("frame is not a JSON object")
	ErrRateLimited     = errors.New("request rate exceeded")
	ErrInvalidFormat   = errors.New("frame failed schema validation")
	ErrUnknownKey      = errors.New("unknown license key")
	ErrHWIDBind        = errors.New("hardware id could not be bound")
	ErrHWIDMismatch    = errors.New("hardware id does not match")
	ErrVersionMismatch = errors.New("client version does not match")
	ErrServiceDisabled = errors.New("service disabled")
	ErrExpired         = errors.New("license expired")
	ErrHashMismatch    = errors.New("hash verification failed")
)

// Decision is the outcome of one frame. Token goes on the wire; Err is
// the internal cause and is nil only for TokenAccess.
type Decision struct {
	Token   protocol.Token
	Err     error
	Key     string
	FreeKey bool
}

func (d Decision) Granted() bool { return d.Token == protocol.TokenAccess }

// RateLimiter is satisfied by security.RequestLimiter.
type RateLimiter interface {
	Allow(addr string) bool
}

// Authenticator runs the credential pipeline. It holds no per-session
// state and is safe for concurrent use.
type Authenticator struct {
	store          store.Store
	limiter        RateLimiter
	frames         *security.FrameValidator
	notifier       alert.Notifier
	log            zerolog.Logger
	maxMessageSize int
	now            func() time.Time
}

type Option func(*Authenticator)

func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

func WithMaxMessageSize(n int) Option {
	return func(a *Authenticator) { a.maxMessageSize = n }
}

func New(st store.Store, limiter RateLimiter, notifier alert.Notifier, log zerolog.Logger, opts ...Option) *Authenticator {
	if notifier == nil {
		notifier = alert.Discard
	}
	a := &Authenticator{
		store:          st,
		limiter:        limiter,
		frames:         security.NewFrameValidator(),
		notifier:       notifier,
		log:            log.With().Str("component", "auth").Logger(),
		maxMessageSize: constants.MaxMessageSize,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handle decides one frame received from addr. Steps run in a fixed order
// and the first failure answers the frame.
func (a *Authenticator) Handle(ctx context.Context, addr string, frame []byte) Decision {
	if len(frame) > a.maxMessageSize {
		return Decision{Token: protocol.TokenTooLarge, Err: ErrMessageTooLarge}
	}

	doc, err := a.frames.Parse(frame)
	if err != nil {
		return Decision{Token: protocol.TokenInvalidJSON, Err: ErrInvalidJSON}
	}

	if !a.limiter.Allow(addr) {
		a.alert(alert.KindRateLimited, addr, "", "")
		return Decision{Token: protocol.TokenRateLimited, Err: ErrRateLimited}
	}

	creds, err := a.frames.Credentials(doc)
	if err != nil {
		a.alert(alert.KindInvalidFormat, addr, "", string(frame))
		return Decision{Token: protocol.TokenInvalidFormat, Err: ErrInvalidFormat}
	}

	rec, err := a.store.LookupUser(ctx, creds.Key)
	if err != nil {
		if !errors.Is(err, store.ErrUserNotFound) {
			a.log.Error().Err(err).Str("addr", addr).Msg("user lookup failed, treating key as unknown")
		}
		a.alert(alert.KindUnknownKey, addr, creds.Key, "")
		return a.reject(protocol.TokenUnknownKey, ErrUnknownKey, creds.Key)
	}

	if d, ok := a.checkHWID(ctx, addr, creds, rec); !ok {
		return d
	}

	version, err := a.store.VersionInfo(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("version info unavailable, service treated as disabled")
	}
	if !version.Enabled {
		a.alert(alert.KindVersionRejected, addr, "", "")
		return a.reject(protocol.TokenVersionRejected, ErrServiceDisabled, creds.Key)
	}
	if version.Version != creds.Version {
		a.alert(alert.KindVersionRejected, addr, "", "")
		return a.reject(protocol.TokenVersionRejected, ErrVersionMismatch, creds.Key)
	}

	if rec.ExpTime.Expired(a.now()) {
		a.alert(alert.KindExpired, addr, creds.Key, "")
		return a.reject(protocol.TokenExpired, ErrExpired, creds.Key)
	}

	expected := creds.Expected()
	if subtle.ConstantTimeCompare([]byte(expected), []byte(creds.Hash)) != 1 {
		a.alert(alert.KindHashMismatch, addr, "", "")
		return a.reject(protocol.TokenRejected, ErrHashMismatch, creds.Key)
	}

	if rec.FreeKey {
		a.alert(alert.KindFreeKeyLogin, addr, "", "")
		return Decision{Token: protocol.TokenAccess, Key: creds.Key, FreeKey: true}
	}

	a.alert(alert.KindLogin, addr, creds.Key, "")
	return Decision{Token: protocol.TokenAccess, Key: creds.Key}
}

// checkHWID binds an unbound record to the presented hardware id or
// requires a bound one to match it.
func (a *Authenticator) checkHWID(ctx context.Context, addr string, creds protocol.Credentials, rec store.UserRecord) (Decision, bool) {
	if rec.Bound() {
		if rec.HWID != creds.HWID {
			a.alert(alert.KindHWIDMismatch, addr, "", "")
			return a.reject(protocol.TokenHWIDMismatch, ErrHWIDMismatch, creds.Key), false
		}
		return Decision{}, true
	}

	err := a.store.BindHWID(ctx, creds.Key, creds.HWID)
	switch {
	case err == nil:
		a.log.Info().Str("addr", addr).Str("key", creds.Key).Msg("hardware id bound")
		return Decision{}, true
	case errors.Is(err, store.ErrAlreadyBound):
		// Lost a race with a concurrent bind to a different id.
		a.alert(alert.KindHWIDMismatch, addr, "", "")
		return a.reject(protocol.TokenHWIDMismatch, ErrHWIDMismatch, creds.Key), false
	default:
		a.log.Error().Err(err).Str("addr", addr).Str("key", creds.Key).Msg("hardware id bind failed")
		a.alert(alert.KindHWIDBindFailed, addr, "", "")
		return a.reject(protocol.TokenRejected, ErrHWIDBind, creds.Key), false
	}
}

func (a *Authenticator) reject(tok protocol.Token, err error, key string) Decision {
	return Decision{Token: tok, Err: err, Key: key}
}

func (a *Authenticator) alert(kind alert.Kind, addr, key, payload string) {
	a.notifier.Notify(alert.Event{
		Kind:    kind,
		Address: addr,
		Key:     key,
		Payload: payload,
		Time:    a.now(),
	})
}
