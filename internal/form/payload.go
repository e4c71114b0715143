package form

import "github.com/marketbytes-devops/kwa-console/model"

// buildPayload assembles a request body from fields. Hidden fields never
// reach the backend. For updates, an image field still holding the stored
// path is left out: the backend only accepts file parts for images and keeps
// the existing file when the key is absent.
func buildPayload(fields []model.FieldDescriptor, update bool) model.Payload {
	p := make(model.Payload, 0, len(fields))
	for _, f := range fields {
		if f.Hidden {
			continue
		}
		v, ok := payloadValue(f, update)
		if !ok {
			continue
		}
		p = append(p, model.PayloadField{Key: f.ID, Value: v})
	}
	return p
}

func payloadValue(f model.FieldDescriptor, update bool) (any, bool) {
	switch v := f.Value.(type) {
	case nil:
		return "", true
	case *model.Upload:
		if v == nil {
			return "", true
		}
		return v, true
	case bool:
		return v, true
	case string:
		if f.Type == model.FieldImage && update && v != "" {
			return nil, false
		}
		return v, true
	default:
		return model.Stringify(v), true
	}
}
