package telegram

import (
	"strconv"
	"strings"
)

// Authorizer decides which Telegram users may drive the bot. User ids are
// compared as strings, matching how the allow list arrives from the
// environment. An empty allow list authorizes nobody.
type Authorizer struct {
	allowed map[string]struct{}
}

// NewAuthorizer builds an authorizer from the configured user id list. List
// entries may themselves be comma separated, which is how the id list
// arrives when it is set through a single environment variable.
func NewAuthorizer(ids []string) *Authorizer {
	allowed := make(map[string]struct{}, len(ids))
	for _, entry := range ids {
		for _, id := range strings.Split(entry, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			allowed[id] = struct{}{}
		}
	}
	return &Authorizer{allowed: allowed}
}

// Authorized reports whether the user may use the bot.
func (a *Authorizer) Authorized(userID int64) bool {
	_, ok := a.allowed[strconv.FormatInt(userID, 10)]
	return ok
}
