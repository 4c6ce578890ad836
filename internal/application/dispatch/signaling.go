package dispatch

import "github.com/aescanero/msgflow/pkg/domain"

// RRCSetupRequest is the typed view of an RRC setup request
type RRCSetupRequest struct {
	TransactionID      any
	EstablishmentCause any
	UEIdentity         any
}

func decodeRRCSetupRequest(ies domain.IEs) RRCSetupRequest {
	var req RRCSetupRequest
	req.TransactionID, _ = transactionID(ies)
	req.EstablishmentCause, _ = ies.Value("establishment_cause")
	req.UEIdentity, _ = ies.Value("ue_identity")
	return req
}

func (r RRCSetupRequest) metrics() map[string]any {
	m := map[string]any{}
	if r.TransactionID != nil {
		m["rrc_transaction_id"] = r.TransactionID
	}
	if r.EstablishmentCause != nil {
		m["establishment_cause"] = r.EstablishmentCause
	}
	if r.UEIdentity != nil {
		m["ue_identity"] = r.UEIdentity
	}
	return m
}

// transactionID returns the transaction id as an int when it is integral.
// Any other value is echoed unchanged; content is not validated.
func transactionID(ies domain.IEs) (any, bool) {
	v, ok := ies.Value("rrc_transaction_id")
	if !ok {
		return nil, false
	}
	if id, err := ies.Int("rrc_transaction_id"); err == nil {
		return id, true
	}
	return v, true
}

// rrcTransaction builds an RRC handler that normalizes the transaction id
// and copies the remaining elements
func rrcTransaction(result, next string, names ...string) Handler {
	return func(ies domain.IEs) (Outcome, error) {
		m := pick(ies, names...)
		if id, ok := transactionID(ies); ok {
			m["rrc_transaction_id"] = id
		}
		return Outcome{
			ProcessingResult: result,
			Metrics:          m,
			NextAction:       next,
		}, nil
	}
}

func registerRRC(t *Table) {
	t.Register(domain.LayerRRC, "RRCSetupRequest", func(ies domain.IEs) (Outcome, error) {
		return Outcome{
			ProcessingResult: "setup_request_processed",
			Metrics:          decodeRRCSetupRequest(ies).metrics(),
			NextAction:       "send_rrc_setup",
		}, nil
	})

	t.Register(domain.LayerRRC, "RRCSetup",
		rrcTransaction("setup_processed", "send_rrc_setup_complete", "srb1_config", "cell_group_config"))
	t.Register(domain.LayerRRC, "RRCSetupComplete",
		rrcTransaction("setup_complete_processed", "rrc_connected", "selected_plmn"))
	t.Register(domain.LayerRRC, "RRCReconfiguration",
		rrcTransaction("reconfiguration_processed", "send_reconfiguration_complete", "radio_bearer_config", "meas_config"))
}

func registerNAS(t *Table) {
	t.Register(domain.LayerNAS, "RegistrationRequest",
		fixed("registration_request_processed", "send_registration_accept",
			"nas_key_set_identifier", "registration_type", "mobile_identity"))
	t.Register(domain.LayerNAS, "RegistrationAccept",
		fixed("registration_accept_processed", "send_registration_complete",
			"nas_key_set_identifier", "guti", "tai_list"))
	t.Register(domain.LayerNAS, "AuthenticationRequest",
		fixed("authentication_request_processed", "send_authentication_response",
			"nas_key_set_identifier", "rand", "autn"))
}

func registerSIP(t *Table) {
	t.Register(domain.LayerSIP, "SIP_REGISTER",
		fixed("register_processed", "send_200_ok", "from", "to", "contact", "expires"))
	t.Register(domain.LayerSIP, "SIP_INVITE",
		fixed("invite_processed", "send_100_trying", "from", "to", "call_id", "sdp"))
}

func registerIMS(t *Table) {
	t.Register(domain.LayerIMS, "IMS_Service_Route",
		fixed("service_route_processed", "update_route", "service_route", "path", "p_asserted_identity"))
}
