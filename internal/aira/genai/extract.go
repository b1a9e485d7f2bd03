package genai

import "github.com/tidwall/gjson"

// ExtractText pulls the assistant reply text out of a Responses API payload.
//
// The backend's response shape varies, so extraction follows a fixed fallback
// chain rather than strict decoding:
//  1. the first output item with type "message" that has a first content
//     text entry;
//  2. otherwise the last output item's first content text entry;
//  3. otherwise the raw payload as a string.
//
// The ordering is observable behavior under malformed payloads and must not
// change.
func ExtractText(body []byte) string {
	output := gjson.GetBytes(body, "output")
	if output.IsArray() {
		items := output.Array()
		for _, item := range items {
			if item.Get("type").String() != "message" {
				continue
			}
			if text := item.Get("content.0.text"); text.Exists() {
				return text.String()
			}
		}
		if len(items) > 0 {
			if text := items[len(items)-1].Get("content.0.text"); text.Exists() {
				return text.String()
			}
		}
	}
	return string(body)
}
