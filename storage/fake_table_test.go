package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

// fakeTable is an in-memory Azure table supporting equality filters, etags
// and all-or-nothing transactions.
type fakeTable struct {
	mu      sync.Mutex
	rows    map[string]map[string]any
	version int
	txErr   error
	txCalls int
	// failAt makes the n-th transaction (1-based) fail with txErr.
	failAt   int
	maxBatch int
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string]map[string]any{}}
}

func rowID(pk, rk string) string { return pk + "|" + rk }

func respErr(status int, code string) error {
	return &azcore.ResponseError{StatusCode: status, ErrorCode: code}
}

// put stores props as-is, bypassing all checks.
func (f *fakeTable) put(props map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.version++
	props["odata.etag"] = fmt.Sprintf(`W/"%d"`, f.version)
	f.rows[rowID(props["PartitionKey"].(string), props["RowKey"].(string))] = props
}

// row returns a copy of the stored properties or nil.
func (f *fakeTable) row(pk, rk string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	props, ok := f.rows[rowID(pk, rk)]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func (f *fakeTable) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeTable) NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	filter := ""
	if listOptions != nil && listOptions.Filter != nil {
		filter = *listOptions.Filter
	}
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return false },
		Fetcher: func(ctx context.Context, _ *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			keys := make([]string, 0, len(f.rows))
			for k := range f.rows {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			var resp aztables.ListEntitiesResponse
			for _, k := range keys {
				if !matches(f.rows[k], filter) {
					continue
				}
				data, err := json.Marshal(f.rows[k])
				if err != nil {
					return resp, err
				}
				resp.Entities = append(resp.Entities, data)
			}
			return resp, nil
		},
	})
}

func matches(props map[string]any, filter string) bool {
	if filter == "" {
		return true
	}
	for _, cond := range strings.Split(filter, " and ") {
		parts := strings.SplitN(cond, " eq ", 2)
		if len(parts) != 2 {
			return false
		}
		want := strings.ReplaceAll(strings.TrimSuffix(strings.TrimPrefix(parts[1], "'"), "'"), "''", "'")
		if got, ok := props[parts[0]]; !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

func (f *fakeTable) GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	props, ok := f.rows[rowID(partitionKey, rowKey)]
	if !ok {
		return aztables.GetEntityResponse{}, respErr(404, "ResourceNotFound")
	}
	data, err := json.Marshal(props)
	if err != nil {
		return aztables.GetEntityResponse{}, err
	}
	return aztables.GetEntityResponse{ETag: azcore.ETag(props["odata.etag"].(string)), Value: data}, nil
}

func (f *fakeTable) AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return aztables.AddEntityResponse{}, f.apply(f.rows, aztables.TransactionTypeAdd, entity, nil)
}

func (f *fakeTable) UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	typ := aztables.TransactionTypeUpdateMerge
	var ifMatch *azcore.ETag
	if options != nil {
		ifMatch = options.IfMatch
		if options.UpdateMode == aztables.UpdateModeReplace {
			typ = aztables.TransactionTypeUpdateReplace
		}
	}
	return aztables.UpdateEntityResponse{}, f.apply(f.rows, typ, entity, ifMatch)
}

func (f *fakeTable) SubmitTransaction(ctx context.Context, transactionActions []aztables.TransactionAction, tableSubmitTransactionOptions *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCalls++
	if f.txErr != nil && (f.failAt == 0 || f.failAt == f.txCalls) {
		return aztables.TransactionResponse{}, f.txErr
	}
	if len(transactionActions) > 100 {
		return aztables.TransactionResponse{}, respErr(400, "InvalidInput")
	}
	f.maxBatch = max(f.maxBatch, len(transactionActions))
	staged := make(map[string]map[string]any, len(f.rows))
	for k, v := range f.rows {
		staged[k] = v
	}
	seen := map[string]bool{}
	partition := ""
	for _, a := range transactionActions {
		var keys struct{ PartitionKey, RowKey string }
		if err := json.Unmarshal(a.Entity, &keys); err != nil {
			return aztables.TransactionResponse{}, err
		}
		if partition != "" && keys.PartitionKey != partition {
			return aztables.TransactionResponse{}, respErr(400, "CommandsInBatchActOnDifferentPartitions")
		}
		partition = keys.PartitionKey
		if seen[keys.RowKey] {
			return aztables.TransactionResponse{}, respErr(400, "InvalidDuplicateRow")
		}
		seen[keys.RowKey] = true
		if err := f.apply(staged, a.ActionType, a.Entity, a.IfMatch); err != nil {
			return aztables.TransactionResponse{}, err
		}
	}
	f.rows = staged
	return aztables.TransactionResponse{}, nil
}

func (f *fakeTable) apply(rows map[string]map[string]any, typ aztables.TransactionType, entity []byte, ifMatch *azcore.ETag) error {
	var props map[string]any
	if err := json.Unmarshal(entity, &props); err != nil {
		return err
	}
	key := rowID(props["PartitionKey"].(string), props["RowKey"].(string))
	current, exists := rows[key]
	switch typ {
	case aztables.TransactionTypeAdd:
		if exists {
			return respErr(409, "EntityAlreadyExists")
		}
	default:
		if !exists {
			return respErr(404, "ResourceNotFound")
		}
		if ifMatch != nil && *ifMatch != azcore.ETagAny && string(*ifMatch) != current["odata.etag"] {
			return respErr(412, "UpdateConditionNotSatisfied")
		}
	}
	switch typ {
	case aztables.TransactionTypeDelete:
		delete(rows, key)
		return nil
	case aztables.TransactionTypeUpdateMerge:
		merged := make(map[string]any, len(current)+len(props))
		for k, v := range current {
			merged[k] = v
		}
		for k, v := range props {
			merged[k] = v
		}
		props = merged
	}
	f.version++
	props["odata.etag"] = fmt.Sprintf(`W/"%d"`, f.version)
	rows[key] = props
	return nil
}
