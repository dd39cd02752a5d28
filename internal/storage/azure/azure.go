package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"consumo/internal/storage"
)

const backendName = "azure"

// Options configures the Azure Table Storage backend
type Options struct {
	Account string
	Key     string
	Table   string
	// Endpoint overrides the public service URL, e.g. for Azurite
	Endpoint string
}

// TableService stores entities in a single Azure table
type TableService struct {
	table  string
	client *aztables.Client
	init   storage.LazyInit
	logger *zap.Logger
}

var _ storage.Service = (*TableService)(nil)

// NewTableService creates the table client. No request is sent until the first operation.
func NewTableService(opts Options, logger *zap.Logger) (*TableService, error) {
	if opts.Account == "" || opts.Key == "" || opts.Table == "" {
		return nil, fmt.Errorf("azure storage account, key and table name are required")
	}

	cred, err := aztables.NewSharedKeyCredential(opts.Account, opts.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	endpoint := ServiceURL(opts)
	var clientOpts *aztables.ClientOptions
	if strings.HasPrefix(endpoint, "http://") {
		clientOpts = &aztables.ClientOptions{
			ClientOptions: policy.ClientOptions{InsecureAllowCredentialWithHTTP: true},
		}
	}

	svc, err := aztables.NewServiceClientWithSharedKey(endpoint, cred, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create table service client: %w", err)
	}

	return &TableService{
		table:  opts.Table,
		client: svc.NewClient(opts.Table),
		logger: logger,
	}, nil
}

// ServiceURL returns the table endpoint for the account
func ServiceURL(opts Options) string {
	if opts.Endpoint != "" {
		return strings.TrimSuffix(opts.Endpoint, "/") + "/"
	}
	return fmt.Sprintf("https://%s.table.core.windows.net/", opts.Account)
}

// Name returns the backend name
func (s *TableService) Name() string {
	return backendName
}

// GetStorageKey derives the partition/row address of a record
func (s *TableService) GetStorageKey(keyType storage.KeyType, kc storage.KeyContext) (storage.Key, error) {
	return storage.DeriveKey(keyType, kc)
}

// ensureTable creates the table on first use
func (s *TableService) ensureTable(ctx context.Context) error {
	err := s.init.Do(ctx, func(ctx context.Context) error {
		_, err := s.client.CreateTable(ctx, nil)
		if err != nil && !hasStatus(err, http.StatusConflict) {
			s.logger.Error("Cannot create destination table", zap.String("table", s.table), zap.Error(err))
			return err
		}
		s.logger.Debug("Table exists in storage account", zap.String("table", s.table))
		return nil
	})
	return storage.NewBackendError(backendName, "init", err)
}

// Get fetches the entity stored at key
func (s *TableService) Get(ctx context.Context, key storage.Key) (storage.Entity, error) {
	if err := s.ensureTable(ctx); err != nil {
		return nil, err
	}

	resp, err := s.client.GetEntity(ctx, key.PartitionKey, key.RowKey, nil)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("get %s: %w", key, storage.ErrNotFound)
		}
		return nil, storage.NewBackendError(backendName, "get", err)
	}

	entity, err := decodeEntity(resp.Value)
	if err != nil {
		return nil, storage.NewBackendError(backendName, "get", fmt.Errorf("decode %s: %w", key, err))
	}
	return entity, nil
}

// Add inserts a new entity. The service rejects an existing row with 409.
func (s *TableService) Add(ctx context.Context, key storage.Key, entity storage.Entity) error {
	if err := s.ensureTable(ctx); err != nil {
		return err
	}

	payload, err := encodeEntity(key, entity)
	if err != nil {
		return storage.NewBackendError(backendName, "add", err)
	}

	if _, err := s.client.AddEntity(ctx, payload, nil); err != nil {
		if hasStatus(err, http.StatusConflict) {
			return fmt.Errorf("add %s: %w", key, storage.ErrConflict)
		}
		return storage.NewBackendError(backendName, "add", err)
	}
	return nil
}

// AddOrUpdate inserts or replaces the entity at key
func (s *TableService) AddOrUpdate(ctx context.Context, key storage.Key, entity storage.Entity) error {
	if err := s.ensureTable(ctx); err != nil {
		return err
	}

	payload, err := encodeEntity(key, entity)
	if err != nil {
		return storage.NewBackendError(backendName, "add_or_update", err)
	}

	_, err = s.client.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{
		UpdateMode: aztables.UpdateModeReplace,
	})
	return storage.NewBackendError(backendName, "add_or_update", err)
}

// Close releases nothing; the SDK client has no persistent connection to close
func (s *TableService) Close() error {
	return nil
}

func hasStatus(err error, status int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == status
}

// EDM annotations of the table layout
const (
	odataTypeSuffix = "@odata.type"
	edmDouble       = "Edm.Double"
	edmDateTime     = "Edm.DateTime"
	edmInt64        = "Edm.Int64"
)

// encodeEntity builds the EDM JSON body for a row.
// Doubles are annotated so whole values are not inferred as Edm.Int32.
func encodeEntity(key storage.Key, entity storage.Entity) ([]byte, error) {
	props := make(map[string]any, len(entity))
	for name, v := range entity {
		switch val := v.(type) {
		case time.Time:
			props[name] = aztables.EDMDateTime(val.UTC())
		case int64:
			props[name] = aztables.EDMInt64(val)
		case int:
			props[name] = int32(val)
		case float64:
			props[name] = val
			props[name+odataTypeSuffix] = edmDouble
		default:
			props[name] = v
		}
	}

	return json.Marshal(&aztables.EDMEntity{
		Entity: aztables.Entity{
			PartitionKey: key.PartitionKey,
			RowKey:       key.RowKey,
		},
		Properties: props,
	})
}

// decodeEntity converts an EDM JSON row into a property bag.
// Unannotated whole numbers are Edm.Int32, other unannotated numbers Edm.Double.
func decodeEntity(data []byte) (storage.Entity, error) {
	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	entity := make(storage.Entity, len(raw))
	for name, v := range raw {
		if isSystemProperty(name) {
			continue
		}
		edmType, _ := raw[name+odataTypeSuffix].(string)
		val, err := decodeProperty(edmType, v)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
		entity[name] = val
	}
	return entity, nil
}

func isSystemProperty(name string) bool {
	switch name {
	case "PartitionKey", "RowKey", "Timestamp":
		return true
	}
	return strings.HasPrefix(name, "odata.") || strings.Contains(name, "@odata.")
}

func decodeProperty(edmType string, v any) (any, error) {
	switch edmType {
	case edmDateTime:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s value has type %T", edmType, v)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return t.UTC(), nil
	case edmInt64:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s value has type %T", edmType, v)
		}
		return strconv.ParseInt(s, 10, 64)
	case edmDouble:
		switch n := v.(type) {
		case json.Number:
			return n.Float64()
		case string:
			// NaN and Infinity travel as strings
			return strconv.ParseFloat(n, 64)
		default:
			return nil, fmt.Errorf("%s value has type %T", edmType, v)
		}
	case "":
		n, ok := v.(json.Number)
		if !ok {
			return v, nil
		}
		if i, err := strconv.ParseInt(n.String(), 10, 32); err == nil {
			return int32(i), nil
		}
		return n.Float64()
	default:
		return v, nil
	}
}
