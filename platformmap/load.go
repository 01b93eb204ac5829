package platformmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/jsonc"
)

// Load parses a stored document. Missing IsActive, MapTime and Locations
// are defaulted; a document without a numeric PlatformNumber, a string
// MapName and a Map object is rejected as a whole.
func Load(raw []byte, now time.Time) (*Document, error) {
	var probe map[string]interface{}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if _, ok := probe["PlatformNumber"].(float64); !ok {
		return nil, fmt.Errorf("%w: PlatformNumber must be a number", ErrInvalidDocument)
	}
	if _, ok := probe["MapName"].(string); !ok {
		return nil, fmt.Errorf("%w: MapName must be a string", ErrInvalidDocument)
	}
	if _, ok := probe["Map"].(map[string]interface{}); !ok {
		return nil, fmt.Errorf("%w: Map must be an object", ErrInvalidDocument)
	}

	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if d.MapTime == "" {
		d.MapTime = Timestamp(now)
	}
	if d.Map.Locations == nil {
		d.Map.Locations = []Entry{}
	}
	d.Reindex()
	d.ApplySentinel()
	return &d, nil
}

// Import parses an uploaded document. Comments and trailing commas are
// allowed. Unlike Load, every Map field and every location field must be
// present with the right type.
func Import(raw []byte, now time.Time) (*Document, error) {
	clean := jsonc.ToJSON(raw)
	var probe map[string]interface{}
	if err := json.Unmarshal(clean, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := validateUpload(probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return Load(clean, now)
}

func validateUpload(doc map[string]interface{}) error {
	if _, ok := doc["PlatformNumber"].(float64); !ok {
		return errors.New("PlatformNumber must be a number")
	}
	if _, ok := doc["MapName"].(string); !ok {
		return errors.New("MapName must be a string")
	}
	body, ok := doc["Map"].(map[string]interface{})
	if !ok {
		return errors.New("Map must be an object")
	}
	if _, ok := body["IsNegative"].(bool); !ok {
		return errors.New("Map.IsNegative must be a boolean")
	}
	if _, ok := body["FarmId"].(float64); !ok {
		return errors.New("Map.FarmId must be a number")
	}
	if _, ok := body["SiteName"].(string); !ok {
		return errors.New("Map.SiteName must be a string")
	}
	locs, ok := body["Locations"].([]interface{})
	if !ok {
		return errors.New("Map.Locations must be an array")
	}
	for i, l := range locs {
		loc, ok := l.(map[string]interface{})
		if !ok {
			return fmt.Errorf("location %d is not an object", i+1)
		}
		if _, ok := loc["Index"].(float64); !ok {
			return fmt.Errorf("location %d: Index must be a number", i+1)
		}
		ref, ok := loc["Location"].(map[string]interface{})
		if !ok {
			return fmt.Errorf("location %d: Location must be an object", i+1)
		}
		if _, ok := ref["Type"].(float64); !ok {
			return fmt.Errorf("location %d: Location.Type must be a number", i+1)
		}
		if _, ok := ref["ID"].(float64); !ok {
			return fmt.Errorf("location %d: Location.ID must be a number", i+1)
		}
		for _, k := range []string{"XLocationInMeters", "YLocationInMeters", "ZLocationInMeters"} {
			if _, ok := loc[k].(float64); !ok {
				return fmt.Errorf("location %d: %s must be a number", i+1, k)
			}
		}
	}
	return nil
}
