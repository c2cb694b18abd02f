// Package webhooks receives GitHub webhook deliveries.
package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/pages-platform/pages-core/database"
	"github.com/pages-platform/pages-core/model"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	eventHeader     = "X-GitHub-Event"
	zeroSha         = "0000000000000000000000000000000000000000"
)

// BranchBuilder starts a build for a pushed branch.
type BranchBuilder interface {
	BuildForBranchPush(ctx context.Context, owner, repo, branch, sha, pusher string) (*model.Build, error)
}

// PushEvent is the part of a GitHub push payload used to start builds.
type PushEvent struct {
	Ref     string `json:"ref"`
	After   string `json:"after"`
	Deleted bool   `json:"deleted"`
	Repo    struct {
		Name  string `json:"name"`
		Owner struct {
			Name  string `json:"name"`
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// Branch returns the branch name of a branch ref, or "" for tags.
func (e PushEvent) Branch() string {
	if !strings.HasPrefix(e.Ref, "refs/heads/") {
		return ""
	}
	return strings.TrimPrefix(e.Ref, "refs/heads/")
}

func (e PushEvent) owner() string {
	if e.Repo.Owner.Login != "" {
		return e.Repo.Owner.Login
	}
	return e.Repo.Owner.Name
}

// ValidSignature checks a X-Hub-Signature-256 header against the payload.
func ValidSignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok || secret == "" {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// GitHub handles POST /webhook/github.
func GitHub(secret string, builder BranchBuilder, logger *zap.Logger) fiber.Handler {
	sugar := logger.Sugar()
	return func(c *fiber.Ctx) error {
		body := c.Body()
		if !ValidSignature(secret, body, c.Get(signatureHeader)) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid webhook signature"})
		}

		switch c.Get(eventHeader) {
		case "ping":
			return c.JSON(fiber.Map{"message": "pong"})
		case "push":
		default:
			return c.SendStatus(fiber.StatusNoContent)
		}

		var event PushEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid push payload"})
		}
		branch := event.Branch()
		if event.Deleted || event.After == zeroSha || branch == "" {
			return c.SendStatus(fiber.StatusNoContent)
		}

		build, err := builder.BuildForBranchPush(c.UserContext(), event.owner(), event.Repo.Name, branch, event.After, event.Sender.Login)
		if errors.Is(err, database.ErrNotFound) {
			return c.SendStatus(fiber.StatusNoContent)
		}
		if err != nil {
			sugar.Errorw("Failed to build pushed branch", "owner", event.owner(), "repository", event.Repo.Name, "branch", branch, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create build"})
		}
		if build == nil {
			return c.SendStatus(fiber.StatusNoContent)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"buildId": build.ID})
	}
}
