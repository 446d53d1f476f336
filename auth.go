package dremio

// Credential selects how a session authenticates. It is either
// UsernamePassword or Token.
type Credential interface {
	credential()
}

// UsernamePassword authenticates with a handshake. Secret is a password or
// a personal access token used as password.
type UsernamePassword struct {
	Username string
	Secret   string
}

// Token authenticates without a handshake by sending the token as bearer
// on every call.
type Token struct {
	Value string
}

func (UsernamePassword) credential() {}
func (Token) credential()            {}

// CredentialFrom resolves the usual command line inputs into a Credential.
// A username with a password (or a token used as password) selects the
// handshake, a token alone selects the bearer token. Returns nil when
// neither applies.
func CredentialFrom(username, password, token string) Credential {
	switch {
	case username != "" && password != "":
		return UsernamePassword{Username: username, Secret: password}
	case username != "" && token != "":
		return UsernamePassword{Username: username, Secret: token}
	case token != "":
		return Token{Value: token}
	default:
		return nil
	}
}

// AuthStrategyKind identifies an authentication strategy.
type AuthStrategyKind int

const (
	// AuthHandshake authenticates with a basic-auth handshake and captures
	// the bearer pair from the response.
	AuthHandshake AuthStrategyKind = iota + 1
	// AuthToken attaches a known bearer token without any round trip.
	AuthToken
)

func (k AuthStrategyKind) String() string {
	switch k {
	case AuthHandshake:
		return "handshake"
	case AuthToken:
		return "token"
	default:
		return "unknown"
	}
}

// AuthStrategy is the authentication plan derived from a Credential.
type AuthStrategy struct {
	Kind     AuthStrategyKind
	Username string
	Secret   string
	Token    string
}

// NeedsHandshake reports whether the strategy requires an authenticate call.
func (s AuthStrategy) NeedsHandshake() bool {
	return s.Kind == AuthHandshake
}

// BearerHeader returns the bearer pair of a token strategy.
func (s AuthStrategy) BearerHeader() Header {
	return Header{Key: "authorization", Value: "Bearer " + s.Token}
}

// SelectAuthStrategy maps a Credential to its strategy. Fails with
// ErrConfig when the credential is absent or incomplete.
func SelectAuthStrategy(cred Credential) (AuthStrategy, error) {
	switch c := cred.(type) {
	case UsernamePassword:
		if c.Username == "" {
			return AuthStrategy{}, configError("select auth", "username", "username is empty", nil)
		}
		if c.Secret == "" {
			return AuthStrategy{}, configError("select auth", "secret", "password or token is empty", nil)
		}
		return AuthStrategy{Kind: AuthHandshake, Username: c.Username, Secret: c.Secret}, nil
	case *UsernamePassword:
		if c == nil {
			break
		}
		return SelectAuthStrategy(*c)
	case Token:
		if c.Value == "" {
			return AuthStrategy{}, configError("select auth", "token", "token is empty", nil)
		}
		return AuthStrategy{Kind: AuthToken, Token: c.Value}, nil
	case *Token:
		if c == nil {
			break
		}
		return SelectAuthStrategy(*c)
	}
	return AuthStrategy{}, configError("select auth", "credential", "credential required", nil)
}
