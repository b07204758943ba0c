package attachments

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/mwantia/goattach/internal/schema"
	"github.com/mwantia/goattach/pkg/db/models"
	"gorm.io/datatypes"
)

// PopulateParentKeys copies the parent keys of the addressing path onto the
// up__ fields of row that were not provided, and records the parent path.
// Provided keys contradicting the path are rejected.
func PopulateParentKeys(target schema.Target, row *models.Attachment, provided schema.Keys) error {
	if row.ParentPath == "" {
		row.ParentPath = target.ParentPath()
	}

	entity := target.Entity
	if entity.Parent == nil {
		return nil
	}

	if row.UpKeys == nil {
		row.UpKeys = datatypes.JSONMap{}
	}

	path := target.UpKeys()
	for name, value := range provided {
		if !strings.HasPrefix(name, schema.UpPrefix) {
			continue
		}
		if expected := path[name]; expected != "" && expected != value {
			return NewValidationError(http.StatusBadRequest, CodeInvalidRequest,
				fmt.Sprintf("parent key '%s' is '%s' but the path addresses '%s'", name, value, expected),
				map[string]any{"field": name})
		}
		row.UpKeys[name] = value
	}

	for _, name := range entity.UpKeys {
		if value, ok := row.UpKeys[name]; ok && value != "" {
			continue
		}
		if path[name] == "" {
			return NewValidationError(http.StatusBadRequest, CodeInvalidRequest,
				fmt.Sprintf("missing parent key '%s' for '%s'", name, entity.Name),
				map[string]any{"field": name})
		}
		row.UpKeys[name] = path[name]
	}

	return nil
}
