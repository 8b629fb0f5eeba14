//go:build integration

package harvest

import (
	"context"
	"testing"

	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/harvest/internal/mirror"
	"github.com/ligustah/harvest/internal/testutils"
	"github.com/ligustah/harvest/pkg/dataset"
)

func TestAcquireMirrorsToMinio(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartMinioContainer(t, ctx, "harvest-acquire")
	defer env.Close(ctx)

	data := jpegBytes(t, 0x40)
	srv := testutils.StartTestHTTPServer(t, []testutils.TestFile{
		{Name: "xray.jpg", ContentType: "image/jpeg", Data: data},
	})

	var pub *mirror.Publisher
	e := newEnv(t, nil, func(o *Options) {
		p, err := mirror.Open(ctx, env.BucketURL, "dataset", o.Layout)
		if err != nil {
			t.Fatalf("mirror.Open: %v", err)
		}
		pub = p
		o.Mirror = p
	})
	defer pub.Close()

	c := dataset.Candidate{
		URL:      srv.URL + "/xray.jpg",
		Label:    "healthy",
		Metadata: dataset.SourceMetadata{Source: "Minio Test", Title: "t"},
	}
	out := e.h.Acquire(ctx, c, dataset.PartitionTrain)
	if !out.Accepted() {
		t.Fatalf("expected accepted, got %v: %s", out.Kind, out.Reason)
	}

	bucket, err := env.OpenBucket(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer bucket.Close()
	ok, err := bucket.Exists(ctx, pub.Key(out.Asset.RelativePath))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("asset %s not mirrored", out.Asset.RelativePath)
	}

	res, err := pub.Verify(ctx, []dataset.HashRecord{{
		RelativePath: out.Asset.RelativePath,
		SHA256:       out.Asset.SHA256,
		Size:         out.Asset.Size,
	}})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Valid {
		t.Errorf("expected valid mirror, got %v", res.Errors)
	}
}
