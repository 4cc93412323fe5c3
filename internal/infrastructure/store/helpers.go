package store

import (
	"context"
	"sort"

	"github.com/example/collab-platform/internal/listquery"
	"github.com/example/collab-platform/internal/readmodel"
)

// FindUserByEmail looks a user up through the generic Find path so it works
// against any ReadStoreInterface.
func FindUserByEmail(ctx context.Context, rs ReadStoreInterface, email string) (*readmodel.UserReadModel, bool, error) {
	docs, err := rs.Find(ctx, readmodel.Users, listquery.Spec{
		Filter: listquery.Filter{"email": email},
		Limit:  1,
	})
	if err != nil || len(docs) == 0 {
		return nil, false, err
	}
	data, ok, err := rs.Get(ctx, readmodel.Users, docs[0].ID())
	if err != nil || !ok {
		return nil, false, err
	}
	u, ok := data.(*readmodel.UserReadModel)
	return u, ok, nil
}

func sortedKeys(f listquery.Filter) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
