package catalog

import (
	"fmt"
	"time"

	"github.com/patricktrainer/duckdb-webhook-gateway/internal/models"
)

func asString(v interface{}) string {
	if v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func asTime(v interface{}) (time.Time, error) {
	s := asString(v)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func scanWebhook(row []interface{}) (models.Webhook, error) {
	if len(row) != 8 {
		return models.Webhook{}, fmt.Errorf("unexpected column count %d", len(row))
	}
	createdAt, err := asTime(row[7])
	if err != nil {
		return models.Webhook{}, err
	}
	return models.Webhook{
		Base:           models.Base{ID: asString(row[0]), CreatedAt: createdAt},
		SourcePath:     asString(row[1]),
		DestinationURL: asString(row[2]),
		TransformQuery: asString(row[3]),
		FilterQuery:    asString(row[4]),
		Owner:          asString(row[5]),
		Active:         asInt64(row[6]) != 0,
	}, nil
}

func scanReferenceTable(row []interface{}) (models.ReferenceTable, error) {
	if len(row) != 6 {
		return models.ReferenceTable{}, fmt.Errorf("unexpected column count %d", len(row))
	}
	createdAt, err := asTime(row[5])
	if err != nil {
		return models.ReferenceTable{}, err
	}
	return models.ReferenceTable{
		Base:              models.Base{ID: asString(row[0]), CreatedAt: createdAt},
		WebhookID:         asString(row[1]),
		Name:              asString(row[2]),
		Description:       asString(row[3]),
		PhysicalTableName: asString(row[4]),
	}, nil
}

func scanReferenceTables(rows [][]interface{}) ([]models.ReferenceTable, error) {
	out := make([]models.ReferenceTable, 0, len(rows))
	for _, row := range rows {
		rt, err := scanReferenceTable(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, nil
}

func scanUDF(row []interface{}) (models.UDF, error) {
	if len(row) != 7 {
		return models.UDF{}, fmt.Errorf("unexpected column count %d", len(row))
	}
	createdAt, err := asTime(row[6])
	if err != nil {
		return models.UDF{}, err
	}
	return models.UDF{
		Base:             models.Base{ID: asString(row[0]), CreatedAt: createdAt},
		WebhookID:        asString(row[1]),
		Name:             asString(row[2]),
		Source:           asString(row[3]),
		PhysicalFuncName: asString(row[4]),
		Arity:            int(asInt64(row[5])),
	}, nil
}

func scanUDFs(rows [][]interface{}) ([]models.UDF, error) {
	out := make([]models.UDF, 0, len(rows))
	for _, row := range rows {
		u, err := scanUDF(row)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}
