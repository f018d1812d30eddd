package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"wolfroute/internal/model"
)

// Fingerprint identifies instance content independent of file name or
// format: a 64-bit xxhash of the canonical JSON of the data and capacity.
func Fingerprint(d model.VRPData, capacity int) string {
	b, _ := json.Marshal(struct {
		Data     model.VRPData `json:"d"`
		Capacity int           `json:"c"`
	}{d, capacity})
	return fmt.Sprintf("%016x", xxhash.Sum64(b))
}

// NewDataset fills the derived metadata for data.
func NewDataset(name, description string, format model.DatasetFormat, data model.VRPData, capacity int) model.Dataset {
	return model.Dataset{
		DatasetMeta: model.DatasetMeta{
			Name:         name,
			Description:  description,
			Format:       format,
			NumCustomers: len(data.Customers),
			TotalDemand:  data.TotalDemand(),
			Capacity:     capacity,
			Fingerprint:  Fingerprint(data, capacity),
		},
		Data: data,
	}
}
