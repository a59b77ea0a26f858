package router

// BuildDeps bundles every collaborator a fully wired Router's handlers
// close over. A connection-wiring layer (the server package) builds
// one of these per listener/config and passes it to Build.
type BuildDeps struct {
	Dir ChannelDirectory
	HP  HistoryProvider

	VerifyOper        func(name, password string) bool
	VerifyWebIRC       func(password, gateway string) bool
	VerifySASLPlain    func(authzid, authcid, password string) bool
	VerifySASLExternal func(fingerprint string) (account string, ok bool)
	Register           func(account, email, password string) error
	Reload             func() error

	Klines XlineStore
	Dlines XlineStore
	Glines XlineStore
	Zlines XlineStore
	Rlines XlineStore
	Shuns  XlineStore

	STARTTLSCapable bool
}

// Build assembles the three dispatch tables of §4.2 from every handler
// in the package, the way a server's main wiring does once at startup.
// Tables are looked up by uppercased command name; PASS/CAP/
// AUTHENTICATE/WEBIRC/REGISTER/NICK/USER/STARTTLS are reachable before
// registration, everything else only after, and PING/PONG/QUIT are
// reachable in every state.
func Build(d BuildDeps) *Router {
	r := New()

	r.PreRegistration["PASS"] = HandlePASS
	r.PreRegistration["NICK"] = HandleNICK
	r.PreRegistration["USER"] = HandleUSER
	r.PreRegistration["CAP"] = HandleCAP
	r.PreRegistration["WEBIRC"] = HandleWEBIRC(d.VerifyWebIRC)
	r.PreRegistration["AUTHENTICATE"] = HandleAUTHENTICATE(d.VerifySASLPlain, d.VerifySASLExternal)
	r.PreRegistration["REGISTER"] = HandleREGISTER(d.Register)
	r.PreRegistration["STARTTLS"] = HandleSTARTTLS(d.STARTTLSCapable)

	r.PostRegistration["NICK"] = HandleNICK
	r.PostRegistration["JOIN"] = HandleJOIN(d.Dir)
	r.PostRegistration["PART"] = HandlePART(d.Dir)
	r.PostRegistration["PRIVMSG"] = HandleMessageToTarget(d.Dir, "PRIVMSG")
	r.PostRegistration["NOTICE"] = HandleMessageToTarget(d.Dir, "NOTICE")
	r.PostRegistration["TAGMSG"] = HandleMessageToTarget(d.Dir, "TAGMSG")
	r.PostRegistration["MODE"] = HandleMODE(d.Dir)
	r.PostRegistration["TOPIC"] = HandleTOPIC(d.Dir)
	r.PostRegistration["KICK"] = HandleKICK(d.Dir)
	r.PostRegistration["INVITE"] = HandleINVITE(d.Dir)
	r.PostRegistration["AWAY"] = HandleAWAY
	r.PostRegistration["ISON"] = HandleISON
	r.PostRegistration["USERHOST"] = HandleUSERHOST
	r.PostRegistration["WHO"] = HandleWHO(d.Dir)
	r.PostRegistration["WHOIS"] = HandleWHOIS
	r.PostRegistration["WHOWAS"] = HandleWHOWAS
	r.PostRegistration["METADATA"] = HandleMETADATA
	r.PostRegistration["SETNAME"] = HandleSETNAME(d.Dir)
	r.PostRegistration["MONITOR"] = HandleMONITOR
	r.PostRegistration["OPER"] = HandleOPER(d.VerifyOper)
	r.PostRegistration["KILL"] = HandleKILL
	r.PostRegistration["WALLOPS"] = HandleWALLOPS
	r.PostRegistration["REHASH"] = HandleREHASH(d.Reload)
	r.PostRegistration["CHATHISTORY"] = HandleCHATHISTORY(d.HP, &BatchCounter{})

	if d.Klines != nil {
		r.PostRegistration["KLINE"] = HandleXline("KLINE", false, d.Klines)
		r.PostRegistration["UNKLINE"] = HandleXline("KLINE", true, d.Klines)
	}
	if d.Dlines != nil {
		r.PostRegistration["DLINE"] = HandleXline("DLINE", false, d.Dlines)
		r.PostRegistration["UNDLINE"] = HandleXline("DLINE", true, d.Dlines)
	}
	if d.Glines != nil {
		r.PostRegistration["GLINE"] = HandleXline("GLINE", false, d.Glines)
		r.PostRegistration["UNGLINE"] = HandleXline("GLINE", true, d.Glines)
	}
	if d.Zlines != nil {
		r.PostRegistration["ZLINE"] = HandleXline("ZLINE", false, d.Zlines)
		r.PostRegistration["UNZLINE"] = HandleXline("ZLINE", true, d.Zlines)
	}
	if d.Rlines != nil {
		r.PostRegistration["RLINE"] = HandleXline("RLINE", false, d.Rlines)
		r.PostRegistration["UNRLINE"] = HandleXline("RLINE", true, d.Rlines)
	}
	if d.Shuns != nil {
		r.PostRegistration["SHUN"] = HandleXline("SHUN", false, d.Shuns)
		r.PostRegistration["UNSHUN"] = HandleXline("SHUN", true, d.Shuns)
	}

	r.Universal["PING"] = HandlePING
	r.Universal["PONG"] = HandlePONG
	r.Universal["QUIT"] = HandleQUIT

	return r
}
