package app

import (
	"errors"
	"net/url"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"quickstart-agent/internal/domain"
)

func validateActivity(a *domain.Activity) error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Type, validation.Required),
		validation.Field(&a.ChannelID, validation.Required),
		validation.Field(&a.ServiceURL,
			validation.Required.When(!a.ExpectsReplies()),
			validation.By(absoluteURL),
		),
		validation.Field(&a.Conversation, validation.By(conversationHasID)),
		validation.Field(&a.Recipient,
			validation.When(strings.EqualFold(a.Type, domain.ActivityTypeConversationUpdate), validation.By(accountHasID)),
		),
	)
}

func absoluteURL(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("must be an absolute URL")
	}
	return nil
}

func conversationHasID(value interface{}) error {
	c, _ := value.(domain.ConversationAccount)
	if c.ID == "" {
		return errors.New("id is required")
	}
	return nil
}

func accountHasID(value interface{}) error {
	acc, _ := value.(domain.ChannelAccount)
	if acc.ID == "" {
		return errors.New("id is required")
	}
	return nil
}
