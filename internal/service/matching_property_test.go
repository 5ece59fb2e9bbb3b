package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"

	"github.com/noah-isme/coop-portal-api/internal/models"
)

// arenaInput is one randomly generated matching scenario.
type arenaInput struct {
	jobs []models.JobListing
	apps []models.Application
}

func genArenaInput() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(1, 5),   // jobs
		gen.IntRange(1, 12),  // students
		gen.IntRange(0, 30),  // applications
		gen.Int64Range(1, 1<<30), // seed material
	).Map(func(values []interface{}) arenaInput {
		jobCount := values[0].(int)
		studentCount := values[1].(int)
		appCount := values[2].(int)
		seed := values[3].(int64)

		next := func() int64 {
			seed = seed*6364136223846793005 + 1442695040888963407
			v := seed >> 33
			if v < 0 {
				v = -v
			}
			return v
		}

		input := arenaInput{}
		capacities := map[string]int{}
		for j := 0; j < jobCount; j++ {
			id := fmt.Sprintf("job-%d", j)
			capacities[id] = int(next() % 4)
			input.jobs = append(input.jobs, models.JobListing{
				ID:            id,
				CycleID:       "cycle-1",
				OpenPositions: capacities[id],
			})
		}
		// Offer and accepted counts per job respect the guards the live
		// system enforces at extension time: seats promised never exceed
		// capacity going into a run.
		statuses := []models.ApplicationStatus{models.StatusOffer, models.StatusRanked, models.StatusRanked, models.StatusAccepted}
		seen := map[string]bool{}
		promised := map[string]int{}
		placedStudents := map[string]bool{}
		for a := 0; a < appCount; a++ {
			student := fmt.Sprintf("s%d", next()%int64(studentCount))
			job := fmt.Sprintf("job-%d", next()%int64(jobCount))
			key := student + "/" + job
			if seen[key] {
				continue
			}
			seen[key] = true
			status := statuses[next()%int64(len(statuses))]
			capacity := capacities[job]
			if status == models.StatusOffer || status == models.StatusAccepted {
				if promised[job] >= capacity {
					status = models.StatusRanked
				}
			}
			if status == models.StatusAccepted && placedStudents[student] {
				status = models.StatusRanked
			}
			if status == models.StatusOffer || status == models.StatusAccepted {
				promised[job]++
			}
			if status == models.StatusAccepted {
				placedStudents[student] = true
			}
			app := models.Application{
				ID:              key,
				StudentID:       student,
				JobID:           job,
				Status:          status,
				CumulativeScore: float64(next() % 100),
			}
			if next()%2 == 0 {
				app.StudentRankPosition = intPtr(int(next()%5) + 1)
			}
			if app.Status == models.StatusRanked {
				app.EmployerRankPosition = intPtr(int(next()%5) + 1)
			}
			input.apps = append(input.apps, app)
		}
		return input
	})
}

// runArena executes the in-memory part of a matching run.
func runArena(input arenaInput) (map[string]*jobArena, map[string][]*candidate, bool) {
	svc := &MatchingService{maxPasses: 8, logger: zap.NewNop()}
	arenas, byStudent := buildArena(input.jobs, input.apps)
	resolveOffers(byStudent)
	_, converged := svc.assignAlternates(context.Background(), arenas, byStudent)
	return arenas, byStudent, converged
}

func TestMatchingArenaProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("no job ever exceeds its capacity", prop.ForAll(
		func(input arenaInput) bool {
			arenas, _, _ := runArena(input)
			for _, arena := range arenas {
				if arena.capacityLeft() < 0 {
					return false
				}
			}
			return true
		},
		genArenaInput(),
	))

	properties.Property("no student holds more than one placement", prop.ForAll(
		func(input arenaInput) bool {
			_, byStudent, _ := runArena(input)
			for _, candidates := range byStudent {
				assigned := 0
				for _, c := range candidates {
					if c.assigned {
						assigned++
					}
				}
				if assigned > 1 {
					return false
				}
			}
			return true
		},
		genArenaInput(),
	))

	properties.Property("accepted placements are never revoked", prop.ForAll(
		func(input arenaInput) bool {
			arenas, _, _ := runArena(input)
			updates, _, _ := collectUpdates(arenas)
			for _, update := range updates {
				if update.From == models.StatusAccepted {
					return false
				}
			}
			return true
		},
		genArenaInput(),
	))

	properties.Property("student rejection is only ever emitted for offers", prop.ForAll(
		func(input arenaInput) bool {
			arenas, _, _ := runArena(input)
			updates, _, _ := collectUpdates(arenas)
			for _, update := range updates {
				if update.To == models.StatusRejectedByStudent && update.From != models.StatusOffer {
					return false
				}
			}
			return true
		},
		genArenaInput(),
	))

	properties.Property("every offer and alternate reaches a final state", prop.ForAll(
		func(input arenaInput) bool {
			arenas, _, _ := runArena(input)
			updates, _, _ := collectUpdates(arenas)
			resolved := map[string]bool{}
			for _, update := range updates {
				switch update.To {
				case models.StatusAccepted, models.StatusNotSelected, models.StatusRejectedByStudent:
				default:
					return false
				}
				resolved[update.ApplicationID] = true
			}
			for _, app := range input.apps {
				if app.Status == models.StatusAccepted {
					continue
				}
				if _, known := arenas[app.JobID]; !known {
					continue
				}
				if !resolved[app.ID] {
					return false
				}
			}
			return true
		},
		genArenaInput(),
	))

	properties.TestingRun(t)
}
