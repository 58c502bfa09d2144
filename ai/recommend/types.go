package recommend

// FriendRecommendation is a suggested user for the requester to befriend.
type FriendRecommendation struct {
	UserID             int32    `json:"user_id"`
	Username           string   `json:"username"`
	Bio                string   `json:"bio"`
	Interests          []string `json:"interests"`
	ProfilePhotoURL    string   `json:"profile_photo_url,omitempty"`
	IsVerified         bool     `json:"is_verified"`
	SimilarityScore    float64  `json:"similarity_score"`
	MutualFriendsCount int      `json:"mutual_friends_count"`
	Reason             string   `json:"reason"`
}

// EventRecommendation is a suggested event for a user or a group.
type EventRecommendation struct {
	EventID         int32    `json:"event_id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	LocationName    string   `json:"location_name"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	StartTs         *int64   `json:"start_ts,omitempty"`
	EndTs           *int64   `json:"end_ts,omitempty"`
	AttendeeCount   int32    `json:"attendee_count"`
	IsPremium       bool     `json:"is_premium"`
	SimilarityScore float64  `json:"similarity_score"`
	DistanceMiles   *float64 `json:"distance_miles,omitempty"`
	CanRSVP         bool     `json:"can_rsvp"`
	CreatorIsFriend bool     `json:"creator_is_friend"`
	Reason          string   `json:"reason"`
}

// Candidate is an index match that survived re-validation. Never persisted.
type Candidate[T any] struct {
	EntityID        int32
	RawDistance     float32
	SimilarityScore float64
	Entity          T
}
