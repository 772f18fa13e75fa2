package oauth

// SigninOptions selects how the user is identified.
type SigninOptions struct {
	// SigninMethod is "credential" to reuse the bearer session; anything
	// else means username and password.
	SigninMethod string `json:"signin_method"`
}

// SigninRequest is the body of POST /api/auth/signin.
type SigninRequest struct {
	Username            string        `json:"username"`
	Password            string        `json:"password"`
	ClientID            string        `json:"clientId"`
	Scope               string        `json:"scope"`
	State               string        `json:"state"`
	Secret              string        `json:"secret"`
	RedirectURI         string        `json:"redirectUri"`
	ResponseType        string        `json:"response_type"`
	CodeChallenge       string        `json:"code_challenge"`
	CodeChallengeMethod string        `json:"code_challenge_method"`
	Dev                 bool          `json:"dev"`
	Options             SigninOptions `json:"options"`
}

// SigninResult carries the issued code and the redirect that embeds it.
// A password sign-in also returns a portal session token.
type SigninResult struct {
	Code         string `json:"code"`
	URL          string `json:"url"`
	SessionToken string `json:"sessionToken,omitempty"`
}

// TokenRequest is the form of POST /api/oauth/token.
type TokenRequest struct {
	GrantType    string
	Code         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	CodeVerifier string
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope,omitempty"`
}
