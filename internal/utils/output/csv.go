package output

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/law-makers/harvest/pkg/models"
)

var csvHeader = []string{"input", "success", "kind", "error", "credential", "attempts", "duration_ms", "payload"}

// WriteCSV writes one row per outcome, in input order
func WriteCSV(w io.Writer, resp *models.BatchResponse) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, out := range resp.Outcomes {
		row := []string{
			out.Input,
			strconv.FormatBool(out.Success),
			string(out.Kind),
			out.Error,
			out.Credential,
			strconv.Itoa(out.Attempts),
			strconv.FormatInt(out.Duration.Milliseconds(), 10),
			string(out.Payload),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// SaveCSV writes the outcomes of the batch response to filepath
func SaveCSV(resp *models.BatchResponse, filepath string) error {
	file, err := os.Create(filepath)
	if err != nil {
		return err
	}
	if err := WriteCSV(file, resp); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
