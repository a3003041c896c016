// handlers/quest_routes.go
package handlers

import (
	"context"
	"log"
	"mime/multipart"
	"strings"

	"quest-reward-system/services"

	"github.com/gofiber/fiber/v2"
)

// ProofUploader stores a proof screenshot and returns its public URL.
type ProofUploader interface {
	UploadProof(ctx context.Context, fileHeader *multipart.FileHeader, userID, questID string) (string, error)
}

func setupQuestRoutes(r fiber.Router, d Deps) {
	r.Get("/", func(c *fiber.Ctx) error {
		quests, err := d.Quests.ListQuests(c.UserContext(), false)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(quests)
	})

	r.Get("/mine", func(c *fiber.Ctx) error {
		actions, err := d.Quests.UserActions(c.UserContext(), currentUserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(actions)
	})

	r.Get("/:id", func(c *fiber.Ctx) error {
		quest, err := d.Quests.GetQuest(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(quest)
	})

	r.Post("/:id/claim", func(c *fiber.Ctx) error {
		action, err := d.Quests.Claim(c.UserContext(), currentUserID(c), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(action)
	})

	// Accepts JSON {proof, proof_url} or multipart with a proof_image file.
	r.Post("/:id/submit", func(c *fiber.Ctx) error {
		userID := currentUserID(c)

		// nothing is uploaded unless the attempt can take a submission
		quest, _, err := d.Quests.ClaimedAttempt(c.UserContext(), userID, c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		questID := quest.ID

		var proof services.Proof
		if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
			proof.Text = c.FormValue("proof")
			if fh, err := c.FormFile("proof_image"); err == nil {
				if d.Proofs == nil {
					return badRequest(c, "image proofs are not accepted")
				}
				url, err := d.Proofs.UploadProof(c.UserContext(), fh, userID, questID)
				if err != nil {
					log.Printf("⚠️ [QUEST] Proof upload failed for user=%s quest=%s: %v", userID, questID, err)
					return badRequest(c, err.Error())
				}
				proof.ImageURL = url
			}
		} else if len(c.Body()) > 0 {
			if err := c.BodyParser(&proof); err != nil {
				return badRequest(c, "invalid JSON")
			}
		}

		result, err := d.Quests.Submit(c.UserContext(), userID, questID, proof)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(result)
	})

	r.Post("/:id/reward", func(c *fiber.Ctx) error {
		reward, err := d.Quests.Reward(c.UserContext(), currentUserID(c), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(reward)
	})
}
