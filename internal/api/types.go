package api

import (
	"time"

	"github.com/Mutter0815/OABroadcast/internal/recipient"
)

type SettingsReq struct {
	AccessToken *string `json:"access_token"`
	SelfUserID  *string `json:"self_user_id"`
}

// SettingsResp never carries the token itself.
type SettingsResp struct {
	AccessTokenSet    bool   `json:"access_token_set"`
	AccessTokenMasked string `json:"access_token_masked,omitempty"`
	SelfUserID        string `json:"self_user_id"`
}

type FetchDirectoryReq struct {
	Offset     int    `json:"offset"      binding:"min=0"`
	Count      int    `json:"count"       binding:"required,min=1"`
	Period     string `json:"period"      binding:"required"`
	IsFollower *bool  `json:"is_follower"`
}

type FetchDirectoryResp struct {
	Total      int                   `json:"total"`
	Recipients []recipient.Recipient `json:"recipients"`
}

type ReplaceRecipientsReq struct {
	Recipients []recipient.Recipient `json:"recipients" binding:"required,dive"`
}

type ReplaceRecipientsResp struct {
	Kept int `json:"kept"`
}

type SetCodeReq struct {
	Code string `json:"code"`
}

type SelectAttachmentReq struct {
	AttachmentID string `json:"attachment_id" binding:"required"`
}

type AttachmentsResp struct {
	Current string   `json:"current"`
	Recent  []string `json:"recent"`
}

type FormatBodyResp struct {
	Body     string `json:"body"`
	Original string `json:"original,omitempty"`
}

type StartBroadcastResp struct {
	RunID string `json:"run_id"`
}

type DeleteHistoryReq struct {
	IDs []string `json:"ids" binding:"required,min=1,dive,required"`
}

type DeleteHistoryResp struct {
	Deleted int `json:"deleted"`
}

type RunStats struct {
	Total    int `json:"total"`
	Sent     int `json:"sent"`
	Cooldown int `json:"cooldown"`
	Invalid  int `json:"invalid"`
	Failed   int `json:"failed"`
}

type RunListItem struct {
	ID         string    `json:"id"`
	State      string    `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Stats      RunStats  `json:"stats"`
}

type RunOutcome struct {
	RecipientID string    `json:"recipient_id"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	GatewayCode int       `json:"gateway_code,omitempty"`
	Code        string    `json:"code,omitempty"`
	At          time.Time `json:"at"`
}

type RunDetails struct {
	RunListItem
	ArchivedAt time.Time    `json:"archived_at"`
	Outcomes   []RunOutcome `json:"outcomes"`
}
