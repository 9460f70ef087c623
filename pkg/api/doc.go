// Package api exposes the billing service over HTTP with a chi router.
//
//	POST /checkout-intents     {planId, userId, contactIdentifier} -> 201 {checkoutUrl, sessionId}
//	POST /subscription-status  {userId} -> 200 {active, status, tier, currentPeriodEnd, cancelAtPeriodEnd}
//	POST /subscription-cancel  {userId} or {contactIdentifier} -> 200 {subscriptionId, currentPeriodEnd, cancelAtPeriodEnd}
//	POST /provider-events      signed provider payload -> 200 {received: true}
//	GET  /health
//
// Errors are rendered as {"error": key, "message": detail} with the status
// chosen by errors.Is against the billing error categories: validation and
// signature failures are 400, unknown users and missing subscriptions 404,
// provider failures 502. Authentic provider events are always acknowledged
// with 200, including those that could not be applied.
package api
