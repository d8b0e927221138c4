package gemini

// NewUserContent builds a user turn from parts
func NewUserContent(parts ...Part) Content {
	return Content{Role: RoleUser, Parts: parts}
}

// NewModelContent builds a model turn from parts
func NewModelContent(parts ...Part) Content {
	return Content{Role: RoleModel, Parts: parts}
}

// NewPartFromText builds a text part
func NewPartFromText(text string) Part {
	return TextPart{Text: text}
}

// NewPartFromBytes builds an inline-data part. An empty MIME type is
// sniffed from the data during normalization.
func NewPartFromBytes(data []byte, mimeType string) Part {
	return InlineDataPart{InlineData: Blob{MIMEType: mimeType, Data: data}}
}

// NewPartFromURI builds a file-reference part for previously uploaded
// bytes
func NewPartFromURI(uri, mimeType string) Part {
	return FileDataPart{FileData: FileData{FileURI: uri, MIMEType: mimeType}}
}

// NewPartFromFunctionResponse builds a function-response part
func NewPartFromFunctionResponse(id, name string, response map[string]interface{}) Part {
	return FunctionResponsePart{FunctionResponse: FunctionResponse{
		ID: id, Name: name, Response: response,
	}}
}

// Ptr returns a pointer to v; convenience for optional config fields
func Ptr[T any](v T) *T {
	return &v
}
