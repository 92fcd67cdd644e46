package router

import (
	"errors"
	"regexp"
	"slices"

	"github.com/goevery/notifier/internal/auth"
	"github.com/goevery/notifier/internal/ierr"
)

const (
	GeneralTopic  = "notifications"
	ElevatedTopic = "admin-owner:notifications"
)

type TopicValidator struct {
	topicRegex *regexp.Regexp
}

func NewTopicValidator() *TopicValidator {
	return &TopicValidator{
		topicRegex: regexp.MustCompile(`^([\w-]+:?)*\w$`),
	}
}

func (v *TopicValidator) Validate(topic string) error {
	if !v.topicRegex.MatchString(topic) {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid topic: "+topic))
	}

	return nil
}

// TopicTable maps each role to the topics its session subscribes to. Roles
// missing from the table get the fallback topics.
type TopicTable struct {
	routes   map[auth.Role][]string
	fallback []string
}

func NewTopicTable(routes map[auth.Role][]string, fallback []string) (TopicTable, error) {
	validator := NewTopicValidator()

	table := TopicTable{
		routes:   make(map[auth.Role][]string, len(routes)),
		fallback: slices.Clone(fallback),
	}

	for role, topics := range routes {
		for _, topic := range topics {
			if err := validator.Validate(topic); err != nil {
				return TopicTable{}, err
			}
		}

		table.routes[role] = slices.Clone(topics)
	}

	for _, topic := range fallback {
		if err := validator.Validate(topic); err != nil {
			return TopicTable{}, err
		}
	}

	return table, nil
}

// DefaultTopicTable gives admins and owners the shared elevated topic on top
// of the general one; everybody else gets the general topic only.
func DefaultTopicTable(general string, elevated string) (TopicTable, error) {
	routes := make(map[auth.Role][]string)

	for _, role := range []auth.Role{auth.RoleAdmin, auth.RoleOwner, auth.RoleSeller} {
		if role.IsElevated() {
			routes[role] = []string{elevated, general}
		} else {
			routes[role] = []string{general}
		}
	}

	return NewTopicTable(routes, []string{general})
}

func (t TopicTable) TopicsFor(role auth.Role) []string {
	if topics, ok := t.routes[role]; ok {
		return slices.Clone(topics)
	}

	return slices.Clone(t.fallback)
}
