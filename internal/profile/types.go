package profile

// Setting keys understood by the Manager.
const (
	KeyDisplayName           = "display_name"
	KeyTimezone              = "timezone"
	KeyDefaultCalendarSource = "default_calendar_source"
)

// Profile is the owner's account-wide settings, assembled from the flat
// user_settings table.
type Profile struct {
	DisplayName           string `json:"display_name"`
	Timezone              string `json:"timezone"`
	DefaultCalendarSource string `json:"default_calendar_source"`
}
