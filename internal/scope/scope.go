// Package scope validates and inspects the space-delimited scope strings
// that applications request during sign-in.
package scope

import "strings"

const (
	Provider        = "provider"
	OpenID          = "openid"
	UniversityEmail = "university_email"
	PersonalEmail   = "personal_email"
	Student         = "student"
	Educations      = "educations"
	ProfilePic      = "profile_pic"
)

// Valid lists every scope name an application may request.
var Valid = []string{
	Provider,
	OpenID,
	UniversityEmail,
	PersonalEmail,
	Student,
	Educations,
	ProfilePic,
}

var descriptions = map[string]string{
	Provider:        "Know which identity provider you signed in with",
	OpenID:          "Identify you by your account id and username",
	UniversityEmail: "Read your university email address",
	PersonalEmail:   "Read your personal email address",
	Student:         "Read your student record (name, faculty, major)",
	Educations:      "Read your education history",
	ProfilePic:      "See your profile picture",
}

func known(name string) bool {
	_, ok := descriptions[name]
	return ok
}

// IsValidScope reports whether every single-space separated token of s is
// a known scope. The empty string, and any double space, produce an empty
// token and are therefore invalid.
func IsValidScope(s string) bool {
	for _, each := range strings.Split(s, " ") {
		if !known(each) {
			return false
		}
	}
	return true
}

// Parse splits a scope string into its tokens, dropping empties and
// duplicates while keeping the first-seen order.
func Parse(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Has reports whether scope string s grants name.
func Has(s, name string) bool {
	for _, f := range strings.Fields(s) {
		if f == name {
			return true
		}
	}
	return false
}

// Describe returns the consent-screen text for a scope, or "" if unknown.
func Describe(name string) string {
	return descriptions[name]
}
