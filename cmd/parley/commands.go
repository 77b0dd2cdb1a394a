package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/config"
)

var cmdCtx = context.Background()

// --- interview ---

var interviewCmd = &cobra.Command{
	Use:   "interview",
	Short: "Drive a practice interview from the terminal",
}

type resultBody struct {
	State   string `json:"state"`
	Screen  string `json:"screen"`
	Payload struct {
		Question *struct {
			ID           string `json:"id"`
			Text         string `json:"text"`
			Category     string `json:"category"`
			EstimatedSec int    `json:"estimated_sec"`
		} `json:"question"`
		Feedback *struct {
			Message string `json:"message"`
			Score   int    `json:"score"`
			Partial bool   `json:"partial"`
		} `json:"feedback"`
		Checkpoint *struct {
			Message string `json:"message"`
		} `json:"checkpoint"`
		Message  string `json:"message"`
		Progress *struct {
			Answered int `json:"answered"`
			Total    int `json:"total"`
		} `json:"progress"`
	} `json:"payload"`
}

func printResult(res resultBody) {
	printStatus("State", "%s", res.State)
	if res.Payload.Progress != nil {
		printStatus("Progress", "%d/%d", res.Payload.Progress.Answered, res.Payload.Progress.Total)
	}
	if res.Payload.Question != nil {
		fmt.Printf("\n%s\n  %s\n", colorize(colorBold, "Question "+res.Payload.Question.ID), res.Payload.Question.Text)
		fmt.Printf("  (%s, ~%ds)\n", res.Payload.Question.Category, res.Payload.Question.EstimatedSec)
	}
	if res.Payload.Feedback != nil {
		label := "Feedback"
		if res.Payload.Feedback.Partial {
			label = "Feedback (partial)"
		}
		fmt.Printf("\n%s [%d/5]\n  %s\n", colorize(colorBold, label), res.Payload.Feedback.Score, res.Payload.Feedback.Message)
	}
	if res.Payload.Checkpoint != nil {
		fmt.Printf("\n%s\n  %s\n", colorize(colorCyan, "Checkpoint"), res.Payload.Checkpoint.Message)
	}
	if res.Payload.Message != "" {
		fmt.Printf("\n  %s\n", res.Payload.Message)
	}
}

var interviewBeginCmd = &cobra.Command{
	Use:   "begin",
	Short: "Start a new interview session",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		roleID, _ := cmd.Flags().GetString("role")
		if userID == "" || roleID == "" {
			return fmt.Errorf("--user and --role are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmdCtx, "/v1/interviews", map[string]string{
			"user_id": userID,
			"role_id": roleID,
		})
		if err != nil {
			return err
		}

		var result struct {
			ID              string `json:"id"`
			State           string `json:"state"`
			CurrentQuestion *struct {
				ID   string `json:"id"`
				Text string `json:"text"`
			} `json:"current_question"`
			TotalQuestions      int   `json:"total_questions"`
			EstimatedDurationMs int64 `json:"estimated_duration_ms"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Interview %s started (%d questions, ~%d min)",
			result.ID, result.TotalQuestions, result.EstimatedDurationMs/60_000)
		if result.CurrentQuestion != nil {
			fmt.Printf("\n%s\n  %s\n", colorize(colorBold, "Question "+result.CurrentQuestion.ID), result.CurrentQuestion.Text)
		}
		return nil
	},
}

var interviewAnswerCmd = &cobra.Command{
	Use:   "answer <interview-id>",
	Short: "Submit a recorded answer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		audioURL, _ := cmd.Flags().GetString("audio")
		durationMs, _ := cmd.Flags().GetInt64("duration-ms")
		if audioURL == "" {
			return fmt.Errorf("--audio is required")
		}
		if durationMs <= 0 {
			return fmt.Errorf("--duration-ms must be positive")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmdCtx, "/v1/interviews/"+args[0]+"/answers", map[string]any{
			"audio_url":   audioURL,
			"duration_ms": durationMs,
		})
		if err != nil {
			return err
		}

		var result struct {
			AnswerID        string `json:"answer_id"`
			EstimatedTimeMs int64  `json:"estimated_time_ms"`
			PartialFeedback *struct {
				Message string `json:"message"`
				Score   int    `json:"score"`
			} `json:"partial_feedback"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Answer %s accepted", result.AnswerID)
		if result.PartialFeedback != nil {
			fmt.Printf("\n%s [%d/5]\n  %s\n",
				colorize(colorBold, "Feedback (partial)"),
				result.PartialFeedback.Score,
				result.PartialFeedback.Message)
		}
		return nil
	},
}

var interviewContinueCmd = &cobra.Command{
	Use:   "continue <interview-id>",
	Short: "Acknowledge feedback and move on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmdCtx, "/v1/interviews/"+args[0]+"/continue", nil)
		if err != nil {
			return err
		}

		var result resultBody
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}

var interviewPauseCmd = &cobra.Command{
	Use:   "pause <interview-id>",
	Short: "Pause an interview mid-flight",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmdCtx, "/v1/interviews/"+args[0]+"/pause", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Interview paused")
		return nil
	},
}

var interviewResumeCmd = &cobra.Command{
	Use:   "resume <interview-id>",
	Short: "Resume a paused interview",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmdCtx, "/v1/interviews/"+args[0]+"/resume", nil)
		if err != nil {
			return err
		}

		var result resultBody
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}

var interviewStatusCmd = &cobra.Command{
	Use:   "status <interview-id>",
	Short: "Show an interview's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmdCtx, "/v1/interviews/"+args[0])
		if err != nil {
			return err
		}

		var result resultBody
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printResult(result)
		return nil
	},
}

var interviewSummaryCmd = &cobra.Command{
	Use:   "summary <interview-id>",
	Short: "Show the final report of a completed interview",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmdCtx, "/v1/interviews/"+args[0]+"/summary")
		if err != nil {
			return err
		}

		if resp.StatusCode == 202 {
			resp.Body.Close()
			printStep("Summary still processing, try again shortly...")
			return nil
		}

		var summary struct {
			RoleID            string             `json:"role_id"`
			QuestionsAnswered int                `json:"questions_answered"`
			TotalQuestions    int                `json:"total_questions"`
			AverageScore      float64            `json:"average_score"`
			Breakdown         map[string]float64 `json:"breakdown"`
			ConfidenceTrend   float64            `json:"confidence_trend"`
			Insights          []string           `json:"insights"`
		}
		if err := decodeJSON(resp, &summary); err != nil {
			return err
		}

		printStatus("Role", "%s", summary.RoleID)
		printStatus("Answered", "%d/%d", summary.QuestionsAnswered, summary.TotalQuestions)
		printStatus("Average score", "%.1f/5", summary.AverageScore)
		printStatus("Confidence trend", "%+.2f", summary.ConfidenceTrend)
		for cat, score := range summary.Breakdown {
			printStatus("  "+cat, "%.1f", score)
		}
		for _, insight := range summary.Insights {
			fmt.Printf("  • %s\n", insight)
		}
		return nil
	},
}

var interviewActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "Show the user's resumable interview, if any",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmdCtx, "/v1/users/"+url.PathEscape(userID)+"/interviews/active")
		if err != nil {
			return err
		}
		if resp.StatusCode == 404 {
			resp.Body.Close()
			fmt.Println("No active interview.")
			return nil
		}

		var active struct {
			CanResume bool `json:"can_resume"`
			Interview struct {
				ID                   string `json:"id"`
				RoleID               string `json:"role_id"`
				State                string `json:"state"`
				CurrentQuestionIndex int    `json:"current_question_index"`
				TotalQuestions       int    `json:"total_questions"`
			} `json:"interview"`
		}
		if err := decodeJSON(resp, &active); err != nil {
			return err
		}

		printStatus("Interview", "%s", active.Interview.ID)
		printStatus("Role", "%s", active.Interview.RoleID)
		printStatus("State", "%s", active.Interview.State)
		printStatus("Question", "%d/%d", active.Interview.CurrentQuestionIndex+1, active.Interview.TotalQuestions)
		printStatus("Resumable", "%v", active.CanResume)
		return nil
	},
}

func init() {
	interviewBeginCmd.Flags().String("user", "", "user id")
	interviewBeginCmd.Flags().String("role", "", "role id to practice for")
	interviewAnswerCmd.Flags().String("audio", "", "URL of the recorded answer")
	interviewAnswerCmd.Flags().Int64("duration-ms", 0, "answer duration in milliseconds")
	interviewActiveCmd.Flags().String("user", "", "user id")

	interviewCmd.AddCommand(interviewBeginCmd)
	interviewCmd.AddCommand(interviewAnswerCmd)
	interviewCmd.AddCommand(interviewContinueCmd)
	interviewCmd.AddCommand(interviewPauseCmd)
	interviewCmd.AddCommand(interviewResumeCmd)
	interviewCmd.AddCommand(interviewStatusCmd)
	interviewCmd.AddCommand(interviewSummaryCmd)
	interviewCmd.AddCommand(interviewActiveCmd)
}

// --- archives ---

var archivesCmd = &cobra.Command{
	Use:   "archives",
	Short: "List completed interviews",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		if userID == "" {
			return fmt.Errorf("--user is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmdCtx, "/v1/users/"+url.PathEscape(userID)+"/archives")
		if err != nil {
			return err
		}

		var archives []struct {
			SessionID   string `json:"session_id"`
			RoleID      string `json:"role_id"`
			CompletedAt string `json:"completed_at"`
		}
		if err := decodeJSON(resp, &archives); err != nil {
			return err
		}

		if len(archives) == 0 {
			fmt.Println("No completed interviews.")
			return nil
		}

		for _, a := range archives {
			fmt.Printf("%s  %s  %s\n",
				colorize(colorCyan, shortID(a.SessionID)),
				a.CompletedAt,
				a.RoleID,
			)
		}
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	archivesCmd.Flags().String("user", "", "user id")
}

// --- profile ---

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show the candidate's practice record",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the aggregated profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmdCtx, "/v1/profile")
		if err != nil {
			return err
		}

		var prof any
		if err := decodeJSON(resp, &prof); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(prof)
	},
}

var profileSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show a one-line practice summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmdCtx, "/v1/profile/summary")
		if err != nil {
			return err
		}

		var body struct {
			Summary string `json:"summary"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		fmt.Println(strings.TrimSpace(body.Summary))
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSummaryCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
