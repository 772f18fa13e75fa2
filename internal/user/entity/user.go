package entity

import "time"

// User represents an account row in the users table.
type User struct {
	UID                   string     `db:"uid" json:"uid"`
	Username              string     `db:"username" json:"username"`
	StdID                 string     `db:"std_id" json:"stdId"`
	PersonalEmail         string     `db:"personal_email" json:"personalEmail"`
	PersonalEmailVerified bool       `db:"personal_email_verified" json:"personalEmailVerified"`
	UniversityEmail       string     `db:"university_email" json:"universityEmail"`
	ProfileImageURL       string     `db:"profile_image_url" json:"profileImageUrl"`
	PasswordHash          string     `db:"password_hash" json:"-"`
	Status                string     `db:"status" json:"status"` // active / locked / disabled
	LoginFailedAttempts   int        `db:"login_failed_attempts" json:"-"`
	LockedUntil           *time.Time `db:"locked_until" json:"-"`
	LastLoginAt           *time.Time `db:"last_login_at" json:"lastLoginAt,omitempty"`
	PDPAAcceptedAt        *time.Time `db:"pdpa_accepted_at" json:"pdpaAcceptedAt,omitempty"`
	AppQuota              int        `db:"app_quota" json:"appQuota"`
	CreatedAt             time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updatedAt"`
}

type Student struct {
	StdID       string `db:"std_id" json:"stdId"`
	UID         string `db:"uid" json:"uid"`
	TitleTh     string `db:"title_th" json:"titleTh"`
	FirstNameTh string `db:"first_name_th" json:"firstNameTh"`
	LastNameTh  string `db:"last_name_th" json:"lastNameTh"`
	FirstNameEn string `db:"first_name_en" json:"firstNameEn"`
	LastNameEn  string `db:"last_name_en" json:"lastNameEn"`
	FacultyName string `db:"faculty_name" json:"facultyName"`
	MajorName   string `db:"major_name" json:"majorName"`
	Campus      string `db:"campus" json:"campus"`
}

type Education struct {
	ID          string `db:"id" json:"id"`
	UID         string `db:"uid" json:"uid"`
	StdID       string `db:"std_id" json:"stdId"`
	Level       string `db:"level" json:"level"`
	FacultyName string `db:"faculty_name" json:"facultyName"`
	MajorName   string `db:"major_name" json:"majorName"`
	Campus      string `db:"campus" json:"campus"`
	Status      string `db:"status" json:"status"`
}

// FullUserData is the user with the student record and education history.
type FullUserData struct {
	User
	Student    *Student    `json:"student"`
	Educations []Education `json:"educations"`
}

// UserInfo is the part of a user an access token's scope allows a client to
// read. Fields outside the scope are omitted.
type UserInfo struct {
	UID             string      `json:"uid"`
	Username        string      `json:"username,omitempty"`
	StdID           string      `json:"stdId,omitempty"`
	PersonalEmail   *string     `json:"personalEmail,omitempty"`
	UniversityEmail *string     `json:"universityEmail,omitempty"`
	ProfileImageURL *string     `json:"profileImageUrl,omitempty"`
	Student         *Student    `json:"student,omitempty"`
	Educations      []Education `json:"educations,omitempty"`
}

// EmailVerification is a pending personal email confirmation.
type EmailVerification struct {
	UID       string    `db:"uid"`
	Email     string    `db:"email"`
	Code      string    `db:"code"`
	ExpiresAt time.Time `db:"expires_at"`
}
