package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/tunaaoguzhann/classify-access/core"
)

func main() {
	uploadDir, err := os.MkdirTemp("", "classify-access-example")
	if err != nil {
		log.Fatalf("Failed to create upload dir: %v", err)
	}
	defer os.RemoveAll(uploadDir)

	classifier := core.ClassifierFunc(func(_ context.Context, imagePath string) (string, error) {
		return core.DefaultPositiveLabel, nil
	})

	manager, err := core.NewManager(core.Config{
		Store:      core.NewMemoryStore(),
		Classifier: classifier,
		UploadDir:  uploadDir,
	})
	if err != nil {
		log.Fatalf("Failed to create manager: %v", err)
	}

	ctx := context.Background()

	cred, err := manager.Issue(ctx, "example-client")
	if err != nil {
		log.Fatalf("Failed to issue credential: %v", err)
	}

	fmt.Printf("Issued credential:\n")
	fmt.Printf("  ID: %s\n", cred.ID)
	fmt.Printf("  Issued At: %s\n", cred.IssuedAt)

	res, err := manager.Classify(ctx, core.ClassifyRequest{
		CredentialID: cred.ID,
		Image:        []byte("not really a jpeg"),
		Filename:     "cat.jpg",
	})
	if err != nil {
		log.Fatalf("Failed to classify: %v", err)
	}
	fmt.Printf("\nClassified %s: %s\n", res.Filename, res.Classification)

	dropped := manager.Reap(ctx, cred.IssuedAt.Add(5*time.Hour))
	fmt.Printf("\nReaped %d expired credential(s)\n", dropped)

	_, err = manager.Classify(ctx, core.ClassifyRequest{
		CredentialID: cred.ID,
		Image:        []byte("not really a jpeg"),
		Filename:     "cat.jpg",
	})
	if errors.Is(err, core.ErrUnauthorized) {
		fmt.Printf("As expected, the reaped credential is refused: %v\n", err)
	}
}
