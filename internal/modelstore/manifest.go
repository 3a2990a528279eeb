package modelstore

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// Manifest lists the bucket objects behind each task.
//
//	{
//	  "version": "yolo@1.0.0+logos@0.1.0+ocr@0.1.0",
//	  "tasks": {
//	    "objects": {"model": "objects/v1/model.onnx", "metadata": "objects/v1/meta.json"}
//	  }
//	}
type Manifest struct {
	Version string
	Tasks   map[string]Files
}

func ParseManifest(b []byte) (*Manifest, error) {
	if !gjson.ValidBytes(b) {
		return nil, errors.New("manifest is not valid JSON")
	}
	m := &Manifest{
		Version: gjson.GetBytes(b, "version").String(),
		Tasks:   map[string]Files{},
	}

	var perr error
	gjson.GetBytes(b, "tasks").ForEach(func(key, value gjson.Result) bool {
		f := Files{
			Model:    value.Get("model").String(),
			Metadata: value.Get("metadata").String(),
		}
		if f.Model == "" || f.Metadata == "" {
			perr = errors.Errorf("manifest task %q needs model and metadata", key.String())
			return false
		}
		for _, p := range []string{f.Model, f.Metadata} {
			if strings.Contains(p, "..") {
				perr = errors.Errorf("manifest task %q has unsafe path %q", key.String(), p)
				return false
			}
		}
		m.Tasks[key.String()] = f
		return true
	})
	if perr != nil {
		return nil, perr
	}
	return m, nil
}
