package recommend

import (
	"fmt"
	"strings"

	"github.com/mcbagz/ladchat/store"
)

const (
	reasonFriendFallback = "You might have a lot in common"
	reasonEventPremium   = "Featured premium event"
	reasonEventUser      = "Great opportunity to meet new people"
	reasonEventGroup     = "This event aligns with your group's interests and activities"

	popularAttendeeCount = 5
)

// sharedInterests returns the requester's interests the candidate also lists,
// compared case-insensitively, in the requester's order and spelling.
func sharedInterests(requester, candidate []string) []string {
	theirs := make(map[string]struct{}, len(candidate))
	for _, interest := range candidate {
		theirs[strings.ToLower(strings.TrimSpace(interest))] = struct{}{}
	}
	var shared []string
	seen := make(map[string]struct{})
	for _, interest := range requester {
		key := strings.ToLower(strings.TrimSpace(interest))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		if _, ok := theirs[key]; ok {
			seen[key] = struct{}{}
			shared = append(shared, strings.TrimSpace(interest))
		}
	}
	return shared
}

func friendReason(requester, candidate *store.User) string {
	shared := sharedInterests(requester.Interests, candidate.Interests)
	switch len(shared) {
	case 0:
		return reasonFriendFallback
	case 1:
		return "You both love " + shared[0]
	default:
		return "You share interests in " + strings.Join(shared[:2], ", ")
	}
}

func eventReason(event *store.Event, forGroup bool) string {
	switch {
	case event.AttendeeCount > popularAttendeeCount:
		return fmt.Sprintf("Popular event with %d people attending", event.AttendeeCount)
	case event.IsPremium:
		return reasonEventPremium
	case forGroup:
		return reasonEventGroup
	default:
		return reasonEventUser
	}
}
