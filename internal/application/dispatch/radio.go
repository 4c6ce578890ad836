package dispatch

import (
	"math"

	"github.com/aescanero/msgflow/pkg/domain"
)

// PRACH preamble defaults applied when the elements are absent or unset
// (nil, false, zero or empty)
const (
	defaultPreamblePower     = 23
	defaultPreambleTiming    = 0
	defaultPreambleFrequency = 3732480
)

// PRACHPreamble is the typed view of a PRACH preamble transmission
type PRACHPreamble struct {
	PreambleID any
	Power      any
	Timing     any
	Frequency  any
}

func decodePRACHPreamble(ies domain.IEs) PRACHPreamble {
	p := PRACHPreamble{
		Power:     orDefault(ies, "power", defaultPreamblePower),
		Timing:    orDefault(ies, "timing", defaultPreambleTiming),
		Frequency: orDefault(ies, "frequency", defaultPreambleFrequency),
	}
	p.PreambleID, _ = ies.Value("preamble_id")
	return p
}

func orDefault(ies domain.IEs, key string, def any) any {
	v, ok := ies.Value(key)
	if !ok || unset(v) {
		return def
	}
	return v
}

// unset reports whether v is nil, false, zero, NaN or an empty string
func unset(v any) bool {
	switch n := v.(type) {
	case nil:
		return true
	case bool:
		return !n
	case string:
		return n == ""
	case int:
		return n == 0
	case int32:
		return n == 0
	case int64:
		return n == 0
	case uint8:
		return n == 0
	case uint16:
		return n == 0
	case uint32:
		return n == 0
	case uint64:
		return n == 0
	case float32:
		return n == 0 || n != n
	case float64:
		return n == 0 || math.IsNaN(n)
	}
	return false
}

func (p PRACHPreamble) metrics() map[string]any {
	m := map[string]any{
		"power":     p.Power,
		"timing":    p.Timing,
		"frequency": p.Frequency,
	}
	if p.PreambleID != nil {
		m["preamble_id"] = p.PreambleID
	}
	return m
}

func registerPHY(t *Table) {
	t.Register(domain.LayerPHY, "PRACH_Preamble", func(ies domain.IEs) (Outcome, error) {
		return Outcome{
			ProcessingResult: "preamble_transmitted",
			Metrics:          decodePRACHPreamble(ies).metrics(),
			NextAction:       "wait_for_rar",
		}, nil
	})

	t.Register(domain.LayerPHY, "RAR", func(ies domain.IEs) (Outcome, error) {
		m := pick(ies, "ra_rnti", "ta", "ul_grant")
		if ta, ok := ies.Value("ta"); ok {
			m["timing_advance"] = ta
		}
		return Outcome{
			ProcessingResult: "rar_received",
			Metrics:          m,
			NextAction:       "send_msg3",
		}, nil
	})

	t.Register(domain.LayerPHY, "PDSCH",
		fixed("data_received", "process_data", "mcs", "prb_allocation", "harq_process", "rv"))
	t.Register(domain.LayerPHY, "PUSCH",
		fixed("data_transmitted", "wait_for_ack", "mcs", "prb_allocation", "harq_process", "power"))
}

func registerMAC(t *Table) {
	t.Register(domain.LayerMAC, "MAC_PDU",
		fixed("pdu_processed", "forward_to_rlc", "lcid", "length", "harq_process", "ndi"))
	t.Register(domain.LayerMAC, "BSR",
		fixed("buffer_status_reported", "schedule_ul_grant", "lcg_id", "buffer_size", "bsr_type"))
	t.Register(domain.LayerMAC, "PHR",
		fixed("power_headroom_reported", "adjust_power", "phr", "pcmax", "phr_type"))
}

func registerRLC(t *Table) {
	t.Register(domain.LayerRLC, "RLC_Data_PDU",
		fixed("data_pdu_processed", "forward_to_pdcp", "sn", "si", "p", "data_length"))
	t.Register(domain.LayerRLC, "RLC_Control_PDU",
		fixed("control_pdu_processed", "process_ack_nack", "cpt", "ack_sn", "nack_sn"))
}

func registerPDCP(t *Table) {
	t.Register(domain.LayerPDCP, "PDCP_Data_PDU",
		fixed("data_pdu_processed", "forward_to_rlc", "pdcp_sn", "d_c", "data_length", "security_applied"))
	t.Register(domain.LayerPDCP, "PDCP_Control_PDU",
		fixed("control_pdu_processed", "process_rohc_feedback", "cpt", "rohc_feedback"))
}
