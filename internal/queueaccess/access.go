package queueaccess

import (
	"context"
	"fmt"

	"linesync/internal/api"
	"linesync/internal/ipc"
	"linesync/internal/queue"
)

// Access provides queue maintenance regardless of IPC or direct store backing.
type Access interface {
	List(ctx context.Context, statuses []string) (api.QueueListResponse, error)
	Remove(ctx context.Context, localIDs []string) (api.RemoveRecordsResult, error)
	RemoveMutation(ctx context.Context, id int64) (bool, error)
	// Retry returns how many records and mutations went back to pending.
	// Mutations are only retried when localIDs is empty.
	Retry(ctx context.Context, localIDs []string) (int64, int64, error)
	ClearFailed(ctx context.Context) (int, error)
	Health(ctx context.Context) (queue.DatabaseHealth, error)
}

// PhotoDiscarder removes staged photos left behind by deleted records.
type PhotoDiscarder interface {
	Discard(path string) error
}

// NewIPCAccess returns an Access backed by the daemon.
func NewIPCAccess(client *ipc.Client) Access {
	return &ipcAccess{client: client}
}

// NewStoreAccess returns an Access backed by direct DB access.
func NewStoreAccess(store *queue.Store, photos PhotoDiscarder) Access {
	return &storeAccess{store: store, photos: photos}
}

type ipcAccess struct {
	client *ipc.Client
}

func (a *ipcAccess) List(_ context.Context, statuses []string) (api.QueueListResponse, error) {
	resp, err := a.client.QueueList(statuses)
	if err != nil {
		return api.QueueListResponse{}, err
	}
	return *resp, nil
}

func (a *ipcAccess) Remove(_ context.Context, localIDs []string) (api.RemoveRecordsResult, error) {
	resp, err := a.client.QueueRemove(localIDs)
	if err != nil {
		return api.RemoveRecordsResult{}, err
	}
	return *resp, nil
}

func (a *ipcAccess) RemoveMutation(_ context.Context, id int64) (bool, error) {
	resp, err := a.client.MutationRemove(id)
	if err != nil {
		return false, err
	}
	return resp.Removed, nil
}

func (a *ipcAccess) Retry(_ context.Context, localIDs []string) (int64, int64, error) {
	resp, err := a.client.QueueRetry(localIDs)
	if err != nil {
		return 0, 0, err
	}
	return resp.Records, resp.Mutations, nil
}

func (a *ipcAccess) ClearFailed(_ context.Context) (int, error) {
	resp, err := a.client.QueueClearFailed()
	if err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

func (a *ipcAccess) Health(_ context.Context) (queue.DatabaseHealth, error) {
	resp, err := a.client.DatabaseHealth()
	if err != nil {
		return queue.DatabaseHealth{}, err
	}
	return queue.DatabaseHealth(*resp), nil
}

type storeAccess struct {
	store  *queue.Store
	photos PhotoDiscarder
}

func (a *storeAccess) discard(path string) {
	if a.photos != nil && path != "" {
		_ = a.photos.Discard(path)
	}
}

func (a *storeAccess) List(ctx context.Context, statuses []string) (api.QueueListResponse, error) {
	parsed, invalid := api.ParseStatuses(statuses)
	if len(invalid) > 0 {
		return api.QueueListResponse{}, fmt.Errorf("invalid status %q", invalid[0])
	}
	return api.NewQueueService(a.store).List(ctx, parsed...)
}

func (a *storeAccess) Remove(ctx context.Context, localIDs []string) (api.RemoveRecordsResult, error) {
	res, err := api.RemoveRecords(ctx, a.store, localIDs)
	if err != nil {
		return res, err
	}
	for _, r := range res.Records {
		a.discard(r.Photo)
	}
	return res, nil
}

func (a *storeAccess) RemoveMutation(ctx context.Context, id int64) (bool, error) {
	return a.store.RemoveMutation(ctx, id)
}

func (a *storeAccess) Retry(ctx context.Context, localIDs []string) (int64, int64, error) {
	records, err := a.store.RetryFailed(ctx, localIDs...)
	if err != nil || len(localIDs) > 0 {
		return records, 0, err
	}
	mutations, err := a.store.RetryFailedMutations(ctx)
	return records, mutations, err
}

func (a *storeAccess) ClearFailed(ctx context.Context) (int, error) {
	removed, err := a.store.ClearFailed(ctx)
	for _, rec := range removed {
		a.discard(rec.LocalPhoto)
	}
	return len(removed), err
}

func (a *storeAccess) Health(ctx context.Context) (queue.DatabaseHealth, error) {
	return a.store.CheckHealth(ctx)
}
