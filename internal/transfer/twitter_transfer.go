package transfer

type TweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type TweetRequest struct {
	Text  string      `json:"text"`
	Media *TweetMedia `json:"media,omitempty"`
}

type TweetData struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type TweetResponse struct {
	Data TweetData `json:"data"`
}

type TwitterProcessingInfo struct {
	State          string `json:"state"`
	CheckAfterSecs int    `json:"check_after_secs"`
}

type TwitterMediaResponse struct {
	MediaID        int64                  `json:"media_id"`
	MediaIDString  string                 `json:"media_id_string"`
	ProcessingInfo *TwitterProcessingInfo `json:"processing_info,omitempty"`
}
