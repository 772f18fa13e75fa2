package entity

import "time"

// Application is a third-party app registered against the portal.
type Application struct {
	ClientID       string    `db:"client_id" json:"clientId"`
	ClientSecret   string    `db:"client_secret" json:"-"`
	OwnerID        string    `db:"owner_id" json:"ownerId"`
	AppName        string    `db:"app_name" json:"appName"`
	AppDescription string    `db:"app_description" json:"appDescription"`
	CreatorName    string    `db:"creator_name" json:"creatorName"`
	AppType        string    `db:"app_type" json:"appType"`
	CallbackURL    string    `db:"callback_url" json:"callbackUrl"`
	DevCallbackURL string    `db:"dev_callback_url" json:"devCallbackUrl"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// CreatedApplication is returned once on creation and is the only place the
// client secret is serialized.
type CreatedApplication struct {
	*Application
	ClientSecret string `json:"clientSecret"`
}

// CreateInput is the body of POST /api/app.
type CreateInput struct {
	AppName        string `json:"appName"`
	AppDescription string `json:"appDescription"`
	CreatorName    string `json:"creatorName"`
	AppType        string `json:"appType"`
	CallbackURL    string `json:"callbackUrl"`
	DevCallbackURL string `json:"devCallbackUrl"`
}

// UpdateInput is a partial update; nil fields are left untouched.
type UpdateInput struct {
	AppDescription *string `json:"appDescription"`
	CreatorName    *string `json:"creatorName"`
	CallbackURL    *string `json:"callbackUrl"`
	DevCallbackURL *string `json:"devCallbackUrl"`
}
