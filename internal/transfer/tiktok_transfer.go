package transfer

import "encoding/json"

type TiktokError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

// OK reports whether the envelope carries no error; TikTok answers "ok" on success.
func (e TiktokError) OK() bool {
	return e.Code == "" || e.Code == "ok"
}

type TiktokTokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	OpenID           string `json:"open_id"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	RefreshToken     string `json:"refresh_token"`
	Scope            string `json:"scope"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type VideoPostInfo struct {
	Title                 string `json:"title"`
	PrivacyLevel          string `json:"privacy_level"`
	DisableDuet           bool   `json:"disable_duet"`
	DisableComment        bool   `json:"disable_comment"`
	DisableStitch         bool   `json:"disable_stitch"`
	VideoCoverTimestampMs int    `json:"video_cover_timestamp_ms"`
}

type VideoSourceInfo struct {
	Source          string `json:"source"`
	VideoSize       int64  `json:"video_size"`
	ChunkSize       int64  `json:"chunk_size"`
	TotalChunkCount int64  `json:"total_chunk_count"`
}

type VideoInitRequest struct {
	PostInfo   VideoPostInfo   `json:"post_info"`
	SourceInfo VideoSourceInfo `json:"source_info"`
}

type TiktokInitData struct {
	PublishID string `json:"publish_id"`
	UploadURL string `json:"upload_url"`
}

type TiktokInitResponse struct {
	Data  TiktokInitData `json:"data"`
	Error TiktokError    `json:"error"`
}

type TiktokStatusRequest struct {
	PublishID string `json:"publish_id"`
}

// TiktokStatusResponse keeps data raw: the field carrying the public post id
// has been spelled several ways across API versions.
type TiktokStatusResponse struct {
	Data  json.RawMessage `json:"data"`
	Error TiktokError     `json:"error"`
}

type TiktokStatusData struct {
	Status        string `json:"status"`
	FailReason    string `json:"fail_reason"`
	UploadedBytes int64  `json:"uploaded_bytes"`
}
