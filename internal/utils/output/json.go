package output

import (
	"encoding/json"
	"io"
	"os"

	"github.com/law-makers/harvest/pkg/models"
)

// WriteJSON writes an indented JSON export of the batch response to w
func WriteJSON(w io.Writer, resp *models.BatchResponse) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// SaveJSON writes the batch response to filepath
func SaveJSON(resp *models.BatchResponse, filepath string) error {
	file, err := os.Create(filepath)
	if err != nil {
		return err
	}
	if err := WriteJSON(file, resp); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
