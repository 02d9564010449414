package transfer

const (
	LinkedInShareContentKey = "com.linkedin.ugc.ShareContent"
	LinkedInVisibilityKey   = "com.linkedin.ugc.MemberNetworkVisibility"
	LinkedInUploadKey       = "com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest"
)

type LinkedInText struct {
	Text string `json:"text"`
}

type LinkedInMedia struct {
	Status string `json:"status"`
	Media  string `json:"media"`
}

type LinkedInShareContent struct {
	ShareCommentary    LinkedInText    `json:"shareCommentary"`
	ShareMediaCategory string          `json:"shareMediaCategory"`
	Media              []LinkedInMedia `json:"media,omitempty"`
}

type LinkedInUGCPost struct {
	Author          string                          `json:"author"`
	LifecycleState  string                          `json:"lifecycleState"`
	SpecificContent map[string]LinkedInShareContent `json:"specificContent"`
	Visibility      map[string]string               `json:"visibility"`
}

type LinkedInUGCResponse struct {
	ID string `json:"id"`
}

type LinkedInServiceRelationship struct {
	RelationshipType string `json:"relationshipType"`
	Identifier       string `json:"identifier"`
}

type LinkedInRegisterUpload struct {
	Recipes              []string                      `json:"recipes"`
	Owner                string                        `json:"owner"`
	ServiceRelationships []LinkedInServiceRelationship `json:"serviceRelationships"`
}

type LinkedInRegisterUploadRequest struct {
	RegisterUploadRequest LinkedInRegisterUpload `json:"registerUploadRequest"`
}

type LinkedInUploadRequest struct {
	UploadURL string            `json:"uploadUrl"`
	Headers   map[string]string `json:"headers"`
}

type LinkedInRegisterUploadValue struct {
	UploadMechanism map[string]LinkedInUploadRequest `json:"uploadMechanism"`
	Asset           string                           `json:"asset"`
}

type LinkedInRegisterUploadResponse struct {
	Value LinkedInRegisterUploadValue `json:"value"`
}
