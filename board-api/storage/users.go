package storage

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"golang.org/x/sync/errgroup"

	"prism-board/board-api/domain"
)

const maxParallelUserLookups = 8

type entityGetter interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
}

// userEntity matches the rows written by the identity pipeline: one row per
// user with PartitionKey and RowKey both set to the user id.
type userEntity struct {
	aztables.Entity
	Name  string `json:"Name,omitempty"`
	Email string `json:"Email,omitempty"`
}

// UserDirectory reads display names and emails from an Azure Table.
type UserDirectory struct {
	table entityGetter
}

func NewUserDirectory(connStr, table string) (*UserDirectory, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    10 * time.Second,
				RetryDelay:    200 * time.Millisecond,
				MaxRetryDelay: 2 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &UserDirectory{table: svc.NewClient(table)}, nil
}

// Lookup fetches every id concurrently. Unknown users are left out.
func (d *UserDirectory) Lookup(ctx context.Context, ids []string) (map[string]domain.User, error) {
	out := make(map[string]domain.User, len(ids))
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelUserLookups)
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		g.Go(func() error {
			resp, err := d.table.GetEntity(ctx, id, id, nil)
			if err != nil {
				var respErr *azcore.ResponseError
				if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
					return nil
				}
				return err
			}
			var ent userEntity
			if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
				return err
			}
			mu.Lock()
			out[id] = domain.User{ID: id, Name: ent.Name, Email: ent.Email}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
