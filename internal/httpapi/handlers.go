package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"meetsync/internal/lifecycle"
	"meetsync/internal/model"
	"meetsync/internal/notifier"
	"meetsync/internal/slots"
)

type transitionReply struct {
	Meeting model.Meeting    `json:"meeting"`
	Result  *notifier.Result `json:"result,omitempty"`
}

func (s *Server) createMeeting(c *gin.Context) {
	var in lifecycle.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	m, err := s.svc.Create(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (s *Server) listMeetings(c *gin.Context) {
	ms, err := s.svc.List(c.Request.Context(), c.Query("organization_id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"meetings": ms})
}

func (s *Server) getMeeting(c *gin.Context) {
	sum, err := s.svc.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) sendMeeting(c *gin.Context) {
	m, res, err := s.svc.Send(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, transitionReply{Meeting: m, Result: &res})
}

type confirmRequest struct {
	Date time.Time `json:"date"`
}

func (s *Server) confirmMeeting(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	m, res, err := s.svc.Confirm(c.Request.Context(), c.Param("id"), req.Date)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, transitionReply{Meeting: m, Result: &res})
}

func (s *Server) cancelMeeting(c *gin.Context) {
	m, res, err := s.svc.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, transitionReply{Meeting: m, Result: &res})
}

func (s *Server) remindMeeting(c *gin.Context) {
	res, err := s.svc.SendReminders(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type participantsRequest struct {
	Participants []model.Participant `json:"participants"`
}

func (s *Server) addParticipants(c *gin.Context) {
	var req participantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	m, added, err := s.svc.AddParticipants(c.Request.Context(), c.Param("id"), req.Participants)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"meeting": m, "added": added})
}

func (s *Server) submitResponse(c *gin.Context) {
	var in lifecycle.ResponseInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	in.MeetingID = c.Param("id")
	r, err := s.svc.SubmitResponse(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) submitDecline(c *gin.Context) {
	var in lifecycle.DeclineInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	in.MeetingID = c.Param("id")
	r, err := s.svc.SubmitDecline(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) getInbox(c *gin.Context) {
	refresh, _ := strconv.ParseBool(c.Query("refresh"))
	snap, err := s.inbox.View(c.Request.Context(), c.Param("email"), refresh)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) markRead(c *gin.Context) {
	p, err := s.inbox.Get(c.Param("email"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := p.MarkRead(c.Request.Context(), c.Param("nid")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p.Snapshot())
}

func (s *Server) markAllRead(c *gin.Context) {
	p, err := s.inbox.Get(c.Param("email"))
	if err != nil {
		fail(c, err)
		return
	}
	n, err := p.MarkAllRead(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n, "inbox": p.Snapshot()})
}

type slotsRequest struct {
	Emails          []string `json:"emails"`
	Date            string   `json:"date"`
	Days            int      `json:"days"`
	DurationMinutes int      `json:"duration_minutes"`
	TravelMinutes   int      `json:"travel_minutes"`
	Limit           int      `json:"limit"`
	Timezone        string   `json:"timezone"`
}

const maxSlotDays = 31

// findSlots searches Days calendar days from Date (YYYY-MM-DD in Timezone)
// for slots free for every email. A missing date means today. Slots that
// already started are skipped and at most Limit (default 3) are returned.
func (s *Server) findSlots(c *gin.Context) {
	var req slotsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	loc := time.UTC
	if req.Timezone != "" {
		l, err := time.LoadLocation(req.Timezone)
		if err != nil {
			fail(c, model.Invalid("timezone", "%v", err))
			return
		}
		loc = l
	}
	day := s.now().In(loc)
	if req.Date != "" {
		d, err := time.ParseInLocation(time.DateOnly, req.Date, loc)
		if err != nil {
			fail(c, model.Invalid("date", "want YYYY-MM-DD, got %q", req.Date))
			return
		}
		day = d
	}
	if req.Days <= 0 {
		req.Days = 1
	}
	if req.Days > maxSlotDays {
		fail(c, model.Invalid("days", "at most %d", maxSlotDays))
		return
	}
	if req.Limit <= 0 {
		req.Limit = slots.DefaultSuggestLimit
	}
	opts := slots.Options{Location: loc, TravelMinutes: req.TravelMinutes}
	out, err := slots.SuggestCommonSlots(c.Request.Context(), s.busy, slots.Query{
		Emails:          req.Emails,
		Day:             day,
		Days:            req.Days,
		DurationMinutes: req.DurationMinutes,
		Limit:           req.Limit,
		NotBefore:       s.now(),
	}, opts)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": out})
}
