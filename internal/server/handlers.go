package server

import (
	"strings"

	"deepresearch/internal/config"
	"deepresearch/internal/logging"
	"deepresearch/internal/orchestrator"
	"deepresearch/internal/profile"
	"deepresearch/internal/report"
	"deepresearch/internal/types"

	"github.com/gofiber/fiber/v2"
)

type createSessionRequest struct {
	Topic  string                `json:"topic"`
	Config config.ResearchConfig `json:"config"`
}

type createProfileRequest struct {
	profile.Request
	Config config.ResearchConfig `json:"config"`
}

// advanceRequest performs one step with Input, or, when Run is set, drives
// the session to completion in the background with Inputs.
type advanceRequest struct {
	Input  string              `json:"input"`
	Run    bool                `json:"run"`
	Inputs orchestrator.Inputs `json:"inputs"`
}

type regenerateRequest struct {
	Requirement string `json:"requirement"`
}

type textRequest struct {
	Markdown string `json:"markdown"`
	Text     string `json:"text"`
}

// parseBody decodes an optional JSON body into v.
func parseBody(c *fiber.Ctx, v any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(v); err != nil {
		return badRequest("invalid request body: " + err.Error())
	}
	return nil
}

// =============================================================================
// SESSIONS
// =============================================================================

func (s *Server) listSessions(c *fiber.Ctx) error {
	list, err := s.engine.Sessions(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(success("sessions", list))
}

func (s *Server) createSession(c *fiber.Ctx) error {
	var req createSessionRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	id, err := s.engine.StartSession(c.UserContext(), req.Topic, req.Config)
	if err != nil {
		return err
	}
	snap, err := s.engine.Snapshot(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(success("session created", snap))
}

func (s *Server) createProfile(c *fiber.Ctx) error {
	var req createProfileRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	id, err := s.engine.StartCompanyProfile(c.UserContext(), req.Request, req.Config)
	if err != nil {
		return err
	}
	snap, err := s.engine.Snapshot(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(success("company profile created", snap))
}

func (s *Server) profileOptions(c *fiber.Ctx) error {
	return c.JSON(success("profile options", profile.AvailableOptions()))
}

func (s *Server) getSession(c *fiber.Ctx) error {
	snap, err := s.engine.Snapshot(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(success("session", snap))
}

func (s *Server) advance(c *fiber.Ctx) error {
	id := c.Params("id")
	var req advanceRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	if !req.Run {
		snap, err := s.engine.Advance(c.UserContext(), id, req.Input)
		if err != nil {
			return err
		}
		return c.JSON(success("advanced", snap))
	}

	snap, err := s.engine.Snapshot(c.UserContext(), id)
	if err != nil {
		return err
	}
	if snap.Stage.Terminal() || s.engine.Running(id) {
		return &types.PipelineStateError{SessionID: id, Stage: string(snap.Stage), Op: "run", Reason: "session is finished or already running"}
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if _, err := s.engine.Run(s.baseCtx, id, req.Inputs, nil); err != nil {
			logging.ServerWarn("Background run of %s stopped: %v", id, err)
		}
	}()
	return c.Status(fiber.StatusAccepted).JSON(success("run started", snap))
}

func (s *Server) cancel(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.engine.Cancel(id); err != nil {
		return err
	}
	return c.JSON(success("canceled", fiber.Map{"id": id}))
}

func (s *Server) regenerate(c *fiber.Ctx) error {
	var req regenerateRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	rep, err := s.engine.Regenerate(c.UserContext(), c.Params("id"), req.Requirement)
	if err != nil {
		return err
	}
	return c.JSON(success("report regenerated", rep))
}

// =============================================================================
// REPORTS
// =============================================================================

// getReport returns the report as JSON, or as markdown with the numbered
// reference list appended when format=markdown.
func (s *Server) getReport(c *fiber.Ctx) error {
	id := c.Params("id")
	rep, err := s.engine.GetFinalReport(c.UserContext(), id)
	if err != nil {
		return err
	}
	if c.Query("format") != "markdown" {
		return c.JSON(success("report", rep))
	}

	sess, err := s.engine.Session(c.UserContext(), id)
	if err != nil {
		return err
	}
	body := rep.Markdown
	if sess.Config.ReferencesEnabled() {
		if refs := report.References(rep.Sources); refs != "" {
			body += "\n\n" + refs
		}
	}
	c.Set(fiber.HeaderContentType, "text/markdown; charset=utf-8")
	return c.SendString(body)
}

func (s *Server) getReportSections(c *fiber.Ctx) error {
	rep, err := s.engine.GetFinalReport(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(success("sections", s.engine.ParseSections(rep.Markdown)))
}

func (s *Server) parseSections(c *fiber.Ctx) error {
	var req textRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Markdown) == "" {
		return badRequest("markdown is required")
	}
	return c.JSON(success("sections", s.engine.ParseSections(req.Markdown)))
}

func (s *Server) generateGraph(c *fiber.Ctx) error {
	var req textRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Text) == "" {
		return badRequest("text is required")
	}
	diagram, err := s.engine.GenerateKnowledgeGraph(c.UserContext(), req.Text)
	if err != nil {
		return err
	}
	return c.JSON(success("graph", fiber.Map{"mermaid": diagram}))
}
